package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		literal   string
		name      string
		wantEmail string
		wantName  string
	}{
		{"to@example.com", "", "to@example.com", ""},
		{"first.last+tag@sub.example.co.uk", "", "first.last+tag@sub.example.co.uk", ""},
		{"Jane Doe <jane@example.com>", "", "jane@example.com", "Jane Doe"},
		{"Jane Doe <jane@example.com>", "J. Doe", "jane@example.com", "J. Doe"},
		{"replyto@example.com", "ReplyToName", "replyto@example.com", "ReplyToName"},
		{"user@localhost", "", "user@localhost", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.literal, func(t *testing.T) {
			t.Parallel()
			addr, err := ParseAddress(tt.literal, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, addr.Email)
			assert.Equal(t, tt.wantName, addr.Name)
		})
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	t.Parallel()

	for _, literal := range []string{
		"",
		"   ",
		"plainaddress",
		"missing-domain@",
		"@missing-local.com",
		"user@-leading-hyphen.com",
		"user@trailing-hyphen-.com",
		"user@double..dot.com",
		"user@under_score.com",
		"a@example.com, b@example.com",
	} {
		literal := literal
		t.Run(literal, func(t *testing.T) {
			t.Parallel()
			_, err := ParseAddress(literal, "")
			assert.Error(t, err)
		})
	}
}

func TestParseAddress_RejectsLineBreakInName(t *testing.T) {
	t.Parallel()

	_, err := ParseAddress("to@example.com", "Evil\r\nBcc: x@example.com")
	assert.Error(t, err)
}

func TestAddressString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "from@example.com", Address{Email: "from@example.com"}.String())

	named := Address{Email: "jane@example.com", Name: "Jane"}.String()
	assert.Contains(t, named, "Jane")
	assert.Contains(t, named, "<jane@example.com>")

	encoded := Address{Email: "jose@example.com", Name: "José"}.String()
	assert.Contains(t, encoded, "=?utf-8?")
}

func TestAddressDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", Address{Email: "a@example.com"}.Domain())
	assert.Equal(t, "", Address{}.Domain())
	assert.True(t, Address{}.IsZero())
}
