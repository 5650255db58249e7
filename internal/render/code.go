package render

import (
	"fmt"
	"strings"
	"unicode"

	"storybook-server/internal/domain"
)

var keywords = map[string]bool{
	"func": true, "return": true, "if": true, "else": true, "for": true, "while": true,
	"def": true, "class": true, "import": true, "from": true, "package": true, "var": true,
	"const": true, "let": true, "type": true, "struct": true, "interface": true, "switch": true,
	"case": true, "break": true, "continue": true, "true": true, "false": true, "nil": true,
	"null": true, "None": true, "True": true, "False": true, "public": true, "private": true,
	"static": true, "void": true, "new": true, "async": true, "await": true, "try": true,
	"catch": true, "finally": true, "throw": true, "in": true, "range": true, "go": true,
	"defer": true, "select": true, "map": true, "chan": true, "fn": true, "pub": true,
	"use": true, "mut": true, "impl": true, "match": true, "lambda": true, "yield": true,
	"with": true, "as": true, "elif": true, "except": true, "raise": true, "not": true,
	"and": true, "or": true, "is": true, "function": true, "export": true, "default": true,
	"SELECT": true, "FROM": true, "WHERE": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"JOIN": true, "ORDER": true, "BY": true, "GROUP": true, "INTO": true, "VALUES": true,
}

// commentPrefix возвращает префикс однострочного комментария для языка.
func commentPrefix(language string) string {
	switch strings.ToLower(language) {
	case "python", "py", "ruby", "rb", "bash", "sh", "shell", "yaml", "yml", "toml", "r", "perl":
		return "#"
	case "sql", "lua", "haskell", "hs":
		return "--"
	default:
		return "//"
	}
}

func buildCode(panel domain.DiagramPanel, faces *faceSet, fs float64, _ int) (block, error) {
	return codeBlock(panel.Content, panel.Language, faces, fs), nil
}

// codeBlock верстает исходник моноширинным шрифтом с номерами строк и подсветкой.
func codeBlock(src, language string, faces *faceSet, fs float64) *lineBlock {
	src = strings.ReplaceAll(strings.TrimRight(src, "\n"), "\t", "    ")
	rows := strings.Split(src, "\n")
	width := len(fmt.Sprint(len(rows)))
	prefix := commentPrefix(language)

	b := &lineBlock{fs: fs, faces: faces}
	if language != "" {
		b.lines = append(b.lines, textLine{
			spans: []span{{text: strings.ToLower(language), kind: faceMonoBold, role: roleMuted}},
			scale: 0.8,
			gapEm: 0.3,
		})
	}
	for i, row := range rows {
		spans := []span{{text: fmt.Sprintf("%*d  ", width, i+1), kind: faceMono, role: roleMuted}}
		spans = append(spans, highlight(row, prefix)...)
		b.lines = append(b.lines, textLine{spans: spans})
	}
	return b
}

// highlight разбивает строку на фрагменты: ключевые слова, строки, комментарии.
func highlight(line, comment string) []span {
	var out []span
	var cur strings.Builder
	flush := func(role colorRole, kind faceKind) {
		if cur.Len() > 0 {
			out = append(out, span{text: cur.String(), kind: kind, role: role})
			cur.Reset()
		}
	}

	runes := []rune(line)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case strings.HasPrefix(string(runes[i:]), comment):
			flush(roleText, faceMono)
			out = append(out, span{text: string(runes[i:]), kind: faceMono, role: roleMuted})
			return out
		case r == '"' || r == '\'' || r == '`':
			flush(roleText, faceMono)
			j := i + 1
			for j < len(runes) && runes[j] != r {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			end := min(j+1, len(runes))
			out = append(out, span{text: string(runes[i:end]), kind: faceMono, role: roleString})
			i = end
		case unicode.IsLetter(r) || r == '_':
			flush(roleText, faceMono)
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			if keywords[word] {
				out = append(out, span{text: word, kind: faceMonoBold, role: roleKeyword})
			} else {
				out = append(out, span{text: word, kind: faceMono, role: roleText})
			}
			i = j
		default:
			cur.WriteRune(r)
			i++
		}
	}
	flush(roleText, faceMono)
	return out
}
