package console

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxTypoDistance bounds "did you mean" suggestions.
const maxTypoDistance = 2

// parseLine splits a console line into a command name and its arguments.
// Both "getData 0x66" and "getData(0x66)" are accepted; call syntax uses
// commas between arguments. Quotes around an argument are stripped.
func parseLine(line string) (string, []string) {
	line = strings.TrimSpace(line)
	line = strings.TrimSuffix(line, ";")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return "", nil
	}

	if open := strings.IndexByte(line, '('); open > 0 && strings.HasSuffix(line, ")") {
		name := strings.TrimSpace(line[:open])
		if !strings.ContainsAny(name, " \t") {
			inner := strings.TrimSpace(line[open+1 : len(line)-1])
			var args []string
			if inner != "" {
				for _, a := range strings.Split(inner, ",") {
					args = append(args, unquote(strings.TrimSpace(a)))
				}
			}
			return name, args
		}
	}

	fields := strings.Fields(line)
	args := make([]string, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, unquote(f))
	}
	return fields[0], args
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseInt accepts decimal and 0x prefixed hex. A leading zero is still
// decimal.
func parseInt(s string, bits int) (int, error) {
	base := 10
	raw := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, raw = 16, s[2:]
	}
	v, err := strconv.ParseInt(raw, base, bits+1)
	if err != nil || v < 0 || v >= 1<<bits {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return int(v), nil
}

// parseIndex reads a decimal index. Range checks are left to the caller,
// which knows how many entries exist.
func parseIndex(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return v, nil
}

// parseP1P2 reads a two byte parameter. Bare values are hex, as in 00cf.
func parseP1P2(s string) (uint16, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid p1p2 %q", s)
	}
	return uint16(v), nil
}

// parseByte reads a one byte parameter, hex with or without 0x.
func parseByte(s string) (uint8, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q", s)
	}
	return uint8(v), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on", "y":
		return true, nil
	case "false", "0", "no", "off", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// resolveHex maps the ISK name to its value and strips a 0x prefix.
func resolveHex(s string) string {
	if strings.EqualFold(s, "isk") {
		return ISK
	}
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}

// suggest returns the closest known name to input, or "" when nothing is close.
func suggest(input string, names []string) string {
	input = strings.ToLower(input)
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	minDist := math.MaxInt
	var suggestion string
	for _, name := range sorted {
		dist := levenshtein.ComputeDistance(input, strings.ToLower(name))
		if dist < minDist {
			minDist = dist
			suggestion = name
		}
	}
	if minDist <= maxTypoDistance {
		return suggestion
	}
	return ""
}
