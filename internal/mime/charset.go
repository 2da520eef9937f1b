package mime

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"gopkg.in/alexcesaro/quotedprintable.v3"

	"github.com/shineum/mail-composer/internal/email"
)

// converter turns UTF-8 text into the bytes of the charset a message declares.
type converter struct {
	charset string
	enc     *encoding.Encoder // nil for UTF-8
}

func newConverter(charset string) (*converter, error) {
	if strings.EqualFold(charset, email.DefaultCharset) {
		return &converter{charset: charset}, nil
	}
	e, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	return &converter{charset: charset, enc: e.NewEncoder()}, nil
}

// text converts s. Characters the charset cannot represent are an error, not
// a silent replacement.
func (c *converter) text(s string) (string, error) {
	if c.enc == nil {
		return s, nil
	}
	out, err := c.enc.String(s)
	if err != nil {
		return "", fmt.Errorf("text is not representable in %s: %w", c.charset, err)
	}
	return out, nil
}

// word converts a header value and applies RFC 2047 Q-encoding when it is not
// plain ASCII.
func (c *converter) word(s string) (string, error) {
	if isASCII(s) {
		return s, nil
	}
	out, err := c.text(s)
	if err != nil {
		return "", err
	}
	return quotedprintable.QEncoding.Encode(c.charset, out), nil
}

func lookupCharset(charset string) (encoding.Encoding, error) {
	e, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	if e == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return e, nil
}

// charsetReader lets the word decoder handle encoded words in any charset
// x/text knows.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	e, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	return e.NewDecoder().Reader(input), nil
}

// toUTF8 decodes body bytes declared as charset. Unknown charsets and
// undecodable input are kept as they are.
func toUTF8(charset string, b []byte) string {
	if charset == "" || strings.EqualFold(charset, email.DefaultCharset) || strings.EqualFold(charset, "us-ascii") {
		return string(b)
	}
	e, err := lookupCharset(charset)
	if err != nil {
		slog.Warn("keeping body in unknown charset", "charset", charset, "error", err)
		return string(b)
	}
	out, err := e.NewDecoder().Bytes(b)
	if err != nil {
		slog.Warn("failed to decode body", "charset", charset, "error", err)
		return string(b)
	}
	return string(out)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
