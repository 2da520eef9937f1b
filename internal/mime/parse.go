package mime

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	stdmime "mime"
	"mime/multipart"
	"net/mail"
	"sort"
	"strings"

	"gopkg.in/alexcesaro/quotedprintable.v3"

	"github.com/shineum/mail-composer/internal/email"
)

// standardHeaders are mapped onto Message fields rather than Message.Header.
var standardHeaders = map[string]bool{
	"Date":                      true,
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Message-Id":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
}

var wordDecoder = &quotedprintable.WordDecoder{CharsetReader: charsetReader}

// Parse parses a raw RFC 5322 message into a Message. Text is decoded to
// UTF-8 from its declared charset. It handles plain text and HTML bodies, nested multipart structures and quoted-printable or base64
// transfer encodings. Attachments and unrecognized parts are skipped with a
// warning. Non-standard headers are kept, ordered by name. Addresses that do
// not parse are dropped with a warning; the composer validates the rest again
// when the message is replayed.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Message{
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: msg.Header.Get("Message-Id"),
		Charset:   email.DefaultCharset,
	}

	if from := parseAddressList("From", msg.Header.Get("From")); len(from) > 0 {
		result.From = from[0]
	}
	result.To = parseAddressList("To", msg.Header.Get("To"))
	result.Cc = parseAddressList("Cc", msg.Header.Get("Cc"))
	result.Bcc = parseAddressList("Bcc", msg.Header.Get("Bcc"))
	result.ReplyTo = parseAddressList("Reply-To", msg.Header.Get("Reply-To"))

	if date, err := msg.Header.Date(); err == nil {
		result.SentDate = date
	}

	names := make([]string, 0, len(msg.Header))
	for name := range msg.Header {
		if !standardHeaders[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range msg.Header[name] {
			result.Header.Add(name, decodeHeader(v))
		}
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := stdmime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.Body = email.Body{Parts: []email.Part{{MediaType: email.MediaTypeText, Content: string(body)}}}
		return result, nil
	}
	if cs := params["charset"]; cs != "" {
		result.Charset = cs
	}

	var found textParts
	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, &found); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		if params["charset"] == "" && found.charset != "" {
			result.Charset = found.charset
		}
	} else {
		body, err := decodeContent(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		content := toUTF8(params["charset"], body)
		switch mediaType {
		case email.MediaTypeText:
			found.text = content
		case email.MediaTypeHTML:
			found.html = content
		default:
			slog.Warn("unrecognized top-level content type",
				"content_type", mediaType,
			)
			found.text = content
		}
	}

	if found.text != "" {
		result.Body.Parts = append(result.Body.Parts, email.Part{MediaType: email.MediaTypeText, Content: found.text})
	}
	if found.html != "" {
		result.Body.Parts = append(result.Body.Parts, email.Part{MediaType: email.MediaTypeHTML, Content: found.html})
	}

	return result, nil
}

// textParts holds the body text found while walking a message.
type textParts struct {
	text    string
	html    string
	charset string // of the first text part that declared one
}

func (f *textParts) noteCharset(cs string) {
	if f.charset == "" {
		f.charset = cs
	}
}

// parseMultipart walks a multipart body, keeping the first text/plain and
// text/html parts found at any depth.
func parseMultipart(body io.Reader, boundary string, found *textParts) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := stdmime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		// Check for nested multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, found); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		if strings.HasPrefix(disposition, "attachment") || part.FileName() != "" {
			slog.Warn("skipping attachment",
				"content_type", mediaType,
				"filename", part.FileName(),
			)
			continue
		}

		// multipart.Reader already decodes quoted-printable parts and drops
		// their Content-Transfer-Encoding header.
		content, err := decodeContent(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		cs := params["charset"]
		switch mediaType {
		case email.MediaTypeText:
			if found.text == "" {
				found.text = toUTF8(cs, content)
				found.noteCharset(cs)
			}
		case email.MediaTypeHTML:
			if found.html == "" {
				found.html = toUTF8(cs, content)
				found.noteCharset(cs)
			}
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}

	return nil
}

// decodeContent reads r fully, undoing the given Content-Transfer-Encoding.
func decodeContent(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			// Try with RawStdEncoding for unpadded base64
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	default:
		return io.ReadAll(r)
	}
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// parseAddressList parses an RFC 5322 address list, falling back to parsing
// comma-separated entries one by one so a single bad entry does not lose the
// rest.
func parseAddressList(field, raw string) []email.Address {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		var result []email.Address
		for _, p := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed == "" {
				continue
			}
			addr, err := email.ParseAddress(trimmed, "")
			if err != nil {
				slog.Warn("dropping unparseable address",
					"field", field,
					"address", trimmed,
					"error", err,
				)
				continue
			}
			result = append(result, addr)
		}
		return result
	}

	result := make([]email.Address, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, email.Address{Email: addr.Address, Name: addr.Name})
	}
	return result
}
