package codec

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/ledger/pkg/domain"
)

var (
	// DefaultMaxInputSize bounds a single string argument, in bytes.
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize overrides DefaultMaxInputSize.
	EnvMaxInputSize = "LEDGER_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// SanitizeArgs cleans the string values of a bag received from outside the
// process (HTTP, MCP, CLI). Oversized strings and invalid UTF-8 are rejected
// with ErrArgumentType; control characters other than \n, \t and \r are
// stripped. Nested maps and slices are walked. The input is not modified.
func SanitizeArgs(args domain.Args) (domain.Args, error) {
	if args == nil {
		return nil, nil
	}
	limit := maxInputSize()
	out := make(domain.Args, len(args))
	for k, v := range args {
		clean, err := sanitizeValue(v, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %q: %w", domain.ErrArgumentType, k, err)
		}
		out[k] = clean
	}
	return out, nil
}

func sanitizeValue(v any, limit int) (any, error) {
	switch val := v.(type) {
	case string:
		return SanitizeString(val, limit)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			clean, err := sanitizeValue(item, limit)
			if err != nil {
				return nil, err
			}
			out[k] = clean
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := sanitizeValue(item, limit)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

// SanitizeString enforces limit, validates UTF-8 and strips unsafe control characters.
// We reject rather than truncate so the journal never holds a silently altered value.
func SanitizeString(input string, limit int) (string, error) {
	if len(input) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}
	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func maxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
