// Package mime converts built messages to and from their RFC 5322 / MIME wire
// form.
package mime

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"gopkg.in/alexcesaro/quotedprintable.v3"

	"github.com/shineum/mail-composer/internal/email"
)

// maxLineLen is the RFC 5322 recommended line length headers are folded to.
const maxLineLen = 78

// Render serializes msg as an RFC 5322 message with CRLF line endings. Bcc
// recipients are never written. The subject, custom header values and body
// are converted to msg.Charset. Bodies are quoted-printable encoded; bodies
// with several parts are sent as multipart/alternative. Long header lines are
// folded at spaces.
func Render(msg *email.Message) ([]byte, error) {
	if msg.From.IsZero() {
		return nil, fmt.Errorf("render: message has no From address")
	}

	charset := msg.Charset
	if charset == "" {
		charset = email.DefaultCharset
	}
	conv, err := newConverter(charset)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	var buf bytes.Buffer

	date := msg.SentDate
	if date.IsZero() {
		date = time.Now()
	}
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "From", msg.From.String())
	writeAddressHeader(&buf, "Reply-To", msg.ReplyTo)
	writeAddressHeader(&buf, "To", msg.To)
	writeAddressHeader(&buf, "Cc", msg.Cc)
	if msg.MessageID != "" {
		writeHeader(&buf, "Message-ID", msg.MessageID)
	}
	subject, err := conv.word(msg.Subject)
	if err != nil {
		return nil, fmt.Errorf("encode subject: %w", err)
	}
	writeHeader(&buf, "Subject", subject)
	writeHeader(&buf, "MIME-Version", "1.0")

	for _, f := range msg.Header.Fields() {
		if email.IsReservedHeader(f.Name) {
			slog.Warn("skipping custom header that is rendered from message fields",
				"header", f.Name,
			)
			continue
		}
		value, err := conv.word(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode header %s: %w", f.Name, err)
		}
		writeHeader(&buf, f.Name, value)
	}

	parts := msg.Body.Parts
	if len(parts) == 0 {
		parts = []email.Part{{MediaType: email.MediaTypeText}}
	}

	if len(parts) == 1 {
		content, err := conv.text(parts[0].Content)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		writeHeader(&buf, "Content-Type", contentType(parts[0].MediaType, charset))
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, content); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return buf.Bytes(), nil
	}

	writer := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", writer.Boundary()))
	buf.WriteString("\r\n")

	for _, p := range parts {
		content, err := conv.text(p.Content)
		if err != nil {
			return nil, fmt.Errorf("encode %s part: %w", p.MediaType, err)
		}
		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Type", contentType(p.MediaType, charset))
		partHeader.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := writer.CreatePart(partHeader)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.MediaType, err)
		}
		if err := writeQuotedPrintable(w, content); err != nil {
			return nil, fmt.Errorf("encode %s part: %w", p.MediaType, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

// writeHeader writes one field, folding before a space whenever the next
// word would push the line past maxLineLen. A word longer than the limit
// stays on its own line.
func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteByte(':')
	n := len(name) + 1
	for i, word := range strings.Split(value, " ") {
		if i > 0 && n+1+len(word) > maxLineLen {
			buf.WriteString("\r\n")
			n = 0
		}
		buf.WriteByte(' ')
		buf.WriteString(word)
		n += 1 + len(word)
	}
	buf.WriteString("\r\n")
}

func writeAddressHeader(buf *bytes.Buffer, name string, list []email.Address) {
	if len(list) == 0 {
		return
	}
	formatted := make([]string, 0, len(list))
	for _, a := range list {
		formatted = append(formatted, a.String())
	}
	writeHeader(buf, name, strings.Join(formatted, ", "))
}

func contentType(mediaType, charset string) string {
	return fmt.Sprintf("%s; charset=%s", mediaType, charset)
}

func writeQuotedPrintable(w io.Writer, content string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}
