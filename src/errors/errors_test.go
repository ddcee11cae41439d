package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodesUnique(t *testing.T) {
	codes := []string{ErrConfig, ErrTransport, ErrAuth, ErrStore, ErrDecode}
	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code)
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  New(ErrConfig, "invalid config", ""),
			want: "invalid config",
		},
		{
			name: "with cause",
			err:  Wrap(fmt.Errorf("connection refused"), ErrTransport, "dial failed"),
			want: "dial failed: connection refused",
		},
		{
			name: "with suggestion",
			err:  WrapWithSuggestion(fmt.Errorf("no such file"), ErrConfig, "config not found", "pass --config"),
			want: "config not found: no such file (pass --config)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsCode(t *testing.T) {
	base := fmt.Errorf("boom")
	err := Wrap(base, ErrStore, "write failed")
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, IsCode(err, ErrStore))
	assert.True(t, IsCode(wrapped, ErrStore))
	assert.False(t, IsCode(wrapped, ErrAuth))
	assert.False(t, IsCode(nil, ErrStore))
	assert.False(t, IsCode(base, ErrStore))
	require.True(t, errors.Is(wrapped, base))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrDecode, CodeOf(New(ErrDecode, "bad frame", "")))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
}
