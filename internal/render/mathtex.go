package render

import (
	"sort"
	"strings"

	"storybook-server/internal/domain"
)

var texSymbols = map[string]string{
	`\alpha`: "α", `\beta`: "β", `\gamma`: "γ", `\delta`: "δ", `\epsilon`: "ε", `\varepsilon`: "ε",
	`\zeta`: "ζ", `\eta`: "η", `\theta`: "θ", `\iota`: "ι", `\kappa`: "κ", `\lambda`: "λ",
	`\mu`: "μ", `\nu`: "ν", `\xi`: "ξ", `\pi`: "π", `\rho`: "ρ", `\sigma`: "σ", `\tau`: "τ",
	`\upsilon`: "υ", `\phi`: "φ", `\varphi`: "φ", `\chi`: "χ", `\psi`: "ψ", `\omega`: "ω",
	`\Gamma`: "Γ", `\Delta`: "Δ", `\Theta`: "Θ", `\Lambda`: "Λ", `\Xi`: "Ξ", `\Pi`: "Π",
	`\Sigma`: "Σ", `\Phi`: "Φ", `\Psi`: "Ψ", `\Omega`: "Ω",
	`\infty`: "∞", `\sum`: "∑", `\prod`: "∏", `\int`: "∫", `\partial`: "∂", `\nabla`: "∇",
	`\cdot`: "·", `\times`: "×", `\div`: "÷", `\pm`: "±", `\mp`: "∓",
	`\leq`: "≤", `\le`: "≤", `\geq`: "≥", `\ge`: "≥", `\neq`: "≠", `\ne`: "≠", `\approx`: "≈",
	`\equiv`: "≡", `\sim`: "∼", `\propto`: "∝",
	`\rightarrow`: "→", `\to`: "→", `\leftarrow`: "←", `\Rightarrow`: "⇒", `\Leftrightarrow`: "⇔",
	`\in`: "∈", `\notin`: "∉", `\subset`: "⊂", `\cup`: "∪", `\cap`: "∩", `\emptyset`: "∅",
	`\forall`: "∀", `\exists`: "∃", `\neg`: "¬", `\wedge`: "∧", `\vee`: "∨",
	`\ldots`: "…", `\cdots`: "⋯", `\degree`: "°",
	`\left`: "", `\right`: "", `\,`: " ", `\;`: " ", `\:`: " ", `\quad`: "  ", `\qquad`: "    ",
	`\{`: "{", `\}`: "}",
}

// texKeys - команды в порядке убывания длины, чтобы \le не съедал \leq.
var texKeys = func() []string {
	keys := make([]string, 0, len(texSymbols))
	for k := range texSymbols {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var superscripts = map[rune]rune{'1': '¹', '2': '²', '3': '³', 'n': 'ⁿ'}

// texToUnicode превращает подмножество LaTeX в читаемую Unicode-строку.
func texToUnicode(src string) string {
	s := strings.TrimSpace(src)
	s = strings.TrimPrefix(strings.TrimSuffix(s, "$$"), "$$")
	s = strings.TrimPrefix(strings.TrimSuffix(s, "$"), "$")

	s = replaceCommand(s, `\frac`, 2, func(args []string) string {
		return wrapParen(args[0]) + "/" + wrapParen(args[1])
	})
	s = replaceCommand(s, `\sqrt`, 1, func(args []string) string {
		return "√" + wrapParen(args[0])
	})
	for _, cmd := range []string{`\mathrm`, `\mathbf`, `\text`, `\operatorname`} {
		s = replaceCommand(s, cmd, 1, func(args []string) string { return args[0] })
	}

	for _, k := range texKeys {
		s = replaceWord(s, k, texSymbols[k])
	}
	s = scripts(s)
	s = strings.NewReplacer("{", "", "}", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// replaceWord заменяет команду, если за ней не идет буква (чтобы \in не съел \int).
func replaceWord(s, cmd, repl string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, cmd)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := i + len(cmd)
		last := cmd[len(cmd)-1]
		isLetterCmd := (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z')
		if isLetterCmd && end < len(s) && ((s[end] >= 'a' && s[end] <= 'z') || (s[end] >= 'A' && s[end] <= 'Z')) {
			b.WriteString(s[:end])
			s = s[end:]
			continue
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[end:]
	}
}

// replaceCommand заменяет \cmd{a}{b}... результатом fn. Аргументы могут быть вложенными.
func replaceCommand(s, cmd string, argc int, fn func([]string) string) string {
	for guard := 0; guard < 64; guard++ {
		i := strings.LastIndex(s, cmd+"{")
		if i < 0 {
			return s
		}
		pos := i + len(cmd)
		args := make([]string, 0, argc)
		for len(args) < argc {
			arg, next, ok := braceGroup(s, pos)
			if !ok {
				return s
			}
			args = append(args, arg)
			pos = next
		}
		s = s[:i] + fn(args) + s[pos:]
	}
	return s
}

// braceGroup читает группу {...} начиная с pos (допускаются пробелы перед ней).
func braceGroup(s string, pos int) (string, int, bool) {
	for pos < len(s) && s[pos] == ' ' {
		pos++
	}
	if pos >= len(s) || s[pos] != '{' {
		return "", pos, false
	}
	depth := 0
	for j := pos; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[pos+1 : j], j + 1, true
			}
		}
	}
	return "", pos, false
}

func wrapParen(s string) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= 1 {
		return s
	}
	return "(" + s + ")"
}

// scripts обрабатывает ^ и _. Одиночные ¹²³ⁿ заменяются надстрочными символами,
// остальное записывается как ^(...) / _(...).
func scripts(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r != '^' && r != '_') || i+1 >= len(runes) {
			b.WriteRune(r)
			continue
		}
		var arg string
		if runes[i+1] == '{' {
			depth, j := 0, i+1
			for ; j < len(runes); j++ {
				if runes[j] == '{' {
					depth++
				} else if runes[j] == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			if j >= len(runes) {
				b.WriteRune(r)
				continue
			}
			arg = string(runes[i+2 : j])
			i = j
		} else {
			arg = string(runes[i+1])
			i++
		}
		if r == '^' {
			if sup, ok := superscripts[[]rune(arg)[0]]; ok && len([]rune(arg)) == 1 {
				b.WriteRune(sup)
				continue
			}
		}
		b.WriteRune(r)
		b.WriteString(wrapParen(arg))
	}
	return b.String()
}

func buildMath(panel domain.DiagramPanel, faces *faceSet, fs float64, _ int) (block, error) {
	b := &lineBlock{fs: fs, faces: faces}
	src := strings.ReplaceAll(panel.Content, `\\`, "\n")
	for _, row := range strings.Split(src, "\n") {
		if strings.TrimSpace(row) == "" {
			continue
		}
		b.lines = append(b.lines, textLine{
			spans: []span{{text: texToUnicode(row), kind: faceItalic, role: roleText}},
			scale: 1.4,
			gapEm: 0.4,
			align: alignCenter,
		})
	}
	return b, nil
}
