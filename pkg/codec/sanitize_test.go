package codec_test

import (
	"strings"
	"testing"

	"github.com/aretw0/ledger/pkg/codec"
	"github.com/aretw0/ledger/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeString_SizeLimit(t *testing.T) {
	limit := codec.DefaultMaxInputSize

	tests := []struct {
		name      string
		inputSize int
		wantErr   bool
	}{
		{"Under Limit", limit - 1, false},
		{"Exact Limit", limit, false},
		{"Over Limit", limit + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.SanitizeString(strings.Repeat("a", tt.inputSize), limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, codec.ErrInputTooLarge)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeString_ControlChars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Normal Text", "Hello World", "Hello World"},
		{"Safe Controls", "Line1\nLine2\tTabbed", "Line1\nLine2\tTabbed"},
		{"ANSI Code", "\x1b[31mRed\x1b[0m", "[31mRed[0m"},
		{"Null Byte", "Null\x00Byte", "NullByte"},
		{"Bell", "Ding\x07", "Ding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codec.SanitizeString(tt.input, 100)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSanitizeString_InvalidUTF8(t *testing.T) {
	_, err := codec.SanitizeString("\xbd\xb2\x3d\xbc\x20\xe2\x8c\x98", 100)
	assert.ErrorIs(t, err, codec.ErrInvalidUTF8)
}

func TestSanitizeArgs(t *testing.T) {
	in := domain.Args{
		"name":  "Jo\x00hn",
		"inc":   int64(5),
		"tags":  []any{"a\x07", "b"},
		"inner": map[string]any{"note": "\x1bok"},
	}
	out, err := codec.SanitizeArgs(in)
	require.NoError(t, err)

	assert.Equal(t, "John", out["name"])
	assert.Equal(t, int64(5), out["inc"])
	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, map[string]any{"note": "ok"}, out["inner"])
	assert.Equal(t, "Jo\x00hn", in["name"], "input is left untouched")

	nilOut, err := codec.SanitizeArgs(nil)
	require.NoError(t, err)
	assert.Nil(t, nilOut)
}

func TestSanitizeArgs_EnvOverride(t *testing.T) {
	t.Setenv(codec.EnvMaxInputSize, "10")

	_, err := codec.SanitizeArgs(domain.Args{"name": "12345678901"})
	assert.ErrorIs(t, err, domain.ErrArgumentType)
	assert.ErrorIs(t, err, codec.ErrInputTooLarge)

	_, err = codec.SanitizeArgs(domain.Args{"name": []any{"12345"}})
	assert.NoError(t, err)
}
