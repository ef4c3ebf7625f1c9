package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{
			name:  "valid checksummed address",
			input: "0x71C7656EC7ab88b098defB751B7401B5f6d8976F",
			valid: true,
		},
		{
			name:  "valid lowercase address",
			input: "0x71c7656ec7ab88b098defb751b7401b5f6d8976f",
			valid: true,
		},
		{
			name:  "missing prefix",
			input: "71C7656EC7ab88b098defB751B7401B5f6d8976F",
			valid: true, // go-ethereum accepts unprefixed hex
		},
		{
			name:  "too short",
			input: "0x1234",
			valid: false,
		},
		{
			name:  "not hex",
			input: "0xZZC7656EC7ab88b098defB751B7401B5f6d8976F",
			valid: false,
		},
		{
			name:  "empty",
			input: "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := ParseIdentity(tt.input)
			assert.Equal(t, tt.valid, ok)
			if !tt.valid {
				assert.Equal(t, ZeroIdentity, id)
			}
		})
	}
}

func TestParseTokenID(t *testing.T) {
	id, err := ParseTokenID("42")
	require.NoError(t, err)
	assert.Equal(t, TokenID(42), id)
	assert.Equal(t, "42", id.String())

	_, err = ParseTokenID("-1")
	assert.Error(t, err)

	_, err = ParseTokenID("abc")
	assert.Error(t, err)
}
