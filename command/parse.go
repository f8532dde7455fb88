package command

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Split recognizes a message as a command when its text begins with the
// prefix character. It returns the lower-cased command token and the ordered
// argument list. ok is false for non-command text.
func Split(prefix, text string) (token string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 || fields[0] == "" {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

var durationPattern = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`^(\d+)([smhd])$`)
})

// ParseDuration parses a duration token of the form <integer><unit> with unit
// one of s, m, h, d. An unparseable token is a ValidationError, never a crash.
func ParseDuration(tok string) (time.Duration, error) {
	m := durationPattern().FindStringSubmatch(tok)
	if m == nil {
		return 0, Validationf("invalid duration %q, expected e.g. 30m, 12h, 7d", tok)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, Validationf("invalid duration %q, expected e.g. 30m, 12h, 7d", tok)
	}
	unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour}[m[2]]
	return time.Duration(n) * unit, nil
}

// ParseAmount parses a positive integer argument.
func ParseAmount(tok string) (int64, error) {
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || n <= 0 {
		return 0, Validationf("invalid amount %q, expected a positive number", tok)
	}
	return n, nil
}
