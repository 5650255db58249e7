package migration

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateKeys = map[string]bool{
	"createdAt":   true,
	"updatedAt":   true,
	"lastUpdated": true,
	"timestamp":   true,
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	// Date.prototype.toString() без названия зоны в скобках
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	time.RFC1123,
	time.RFC1123Z,
}

var zoneNameRe = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// parseDate разбирает дату из строки или числа (миллисекунды Unix).
func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case float64:
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(d)).UTC(), true
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, false
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		s = zoneNameRe.ReplaceAllString(s, "")
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// normalizeDates рекурсивно приводит поля дат к RFC3339. Нераспознанная дата
// заменяется нулевым временем с предупреждением.
func normalizeDates(node any, path string, r *run) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if dateKeys[k] {
				if v == nil {
					delete(n, k)
					continue
				}
				t, ok := parseDate(v)
				if !ok {
					r.warn("unparseable date at %s: %v", p, v)
				}
				n[k] = t.Format(time.RFC3339Nano)
				continue
			}
			normalizeDates(v, p, r)
		}
	case []any:
		for i, v := range n {
			normalizeDates(v, path+"["+strconv.Itoa(i)+"]", r)
		}
	}
}
