package price

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAmount parses a numeric amount written with either "," or "." as the
// thousands or decimal separator: "1,299.99", "1.299,99", "20,5", "1299".
// A single separator followed by exactly three digits is read as a thousands
// separator.
func ParseAmount(s string) (float64, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	var normalized string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			normalized = strings.ReplaceAll(s, ",", "")
		} else {
			normalized = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		}
	case lastComma >= 0:
		normalized = resolveSingleSeparator(s, ',')
	case lastDot >= 0:
		normalized = resolveSingleSeparator(s, '.')
	default:
		normalized = s
	}

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func resolveSingleSeparator(s string, sep byte) string {
	parts := strings.Split(s, string(sep))
	if len(parts) > 2 {
		return strings.Join(parts, "")
	}
	if len(parts[1]) == 3 {
		return parts[0] + parts[1]
	}
	return parts[0] + "." + parts[1]
}
