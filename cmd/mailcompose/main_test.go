package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/config"
	"github.com/shineum/mail-composer/internal/email"
)

const storedEML = "From: Sender <sender@example.com>\r\n" +
	"To: to@example.com\r\n" +
	"Subject: Stored\r\n" +
	"Message-ID: <stored@example.com>\r\n" +
	"X-Trace: abc\r\n" +
	"Content-Type: multipart/alternative; boundary=alt\r\n" +
	"\r\n" +
	"--alt\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Stored body\r\n" +
	"--alt\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>Stored body</p>\r\n" +
	"--alt--\r\n"

func writeEML(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "message.eml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))
	return path
}

func TestListFlag(t *testing.T) {
	t.Parallel()

	var l listFlag
	require.NoError(t, l.Set("a@example.com, b@example.com"))
	require.NoError(t, l.Set("c@example.com"))
	assert.Equal(t, listFlag{"a@example.com", "b@example.com", "c@example.com"}, l)
}

func TestHeaderFlag(t *testing.T) {
	t.Parallel()

	var h headerFlag
	require.NoError(t, h.Set("X-Campaign: spring"))
	assert.Equal(t, headerFlag{{Name: "X-Campaign", Value: "spring"}}, h)
	assert.Error(t, h.Set("no-colon"))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.level), "parseLevel(%q)", tt.level)
	}
}

func TestCompose_FromFlags(t *testing.T) {
	t.Parallel()

	c := newComposer(&config.Config{}, "stdout")
	opts := options{
		from:     "sender@example.com",
		fromName: "Sender",
		to:       listFlag{"to@example.com"},
		bcc:      listFlag{"hidden@example.com"},
		subject:  "Hello",
		body:     "plain",
		html:     "<p>html</p>",
		headers:  headerFlag{{Name: "X-Campaign", Value: "spring"}},
	}
	require.NoError(t, compose(c, opts))

	msg, err := c.Build()
	require.NoError(t, err)
	assert.Equal(t, "localhost", msg.Session.Host)
	assert.Equal(t, "Sender", msg.From.Name)
	assert.Len(t, msg.Recipients(), 2)
	assert.True(t, msg.Body.IsMultipart())
	assert.Equal(t, "<p>html</p>", msg.Body.HTML())
	assert.Equal(t, "spring", msg.Header.Get("X-Campaign"))
}

func TestCompose_InvalidAddress(t *testing.T) {
	t.Parallel()

	c := newComposer(&config.Config{}, "stdout")
	assert.Error(t, compose(c, options{from: "not an address"}))
}

func TestCompose_RenderedFieldAsHeader(t *testing.T) {
	t.Parallel()

	c := newComposer(&config.Config{}, "stdout")
	err := compose(c, options{
		from:    "a@example.com",
		to:      listFlag{"b@example.com"},
		headers: headerFlag{{Name: "Bcc", Value: "hidden@example.com"}},
	})
	assert.ErrorIs(t, err, email.ErrInvalidHeader)
}

func TestCompose_SMTPRequiresHost(t *testing.T) {
	t.Parallel()

	c := newComposer(&config.Config{}, "smtp")
	require.NoError(t, compose(c, options{from: "a@example.com", to: listFlag{"b@example.com"}}))
	_, err := c.Build()
	assert.ErrorIs(t, err, email.ErrIncompleteMessage)
}

func TestCompose_FromEML(t *testing.T) {
	t.Parallel()

	c := newComposer(&config.Config{}, "stdout")
	require.NoError(t, compose(c, options{emlPath: writeEML(t, storedEML), cc: listFlag{"cc@example.com"}}))

	msg, err := c.Build()
	require.NoError(t, err)
	assert.Equal(t, email.Address{Email: "sender@example.com", Name: "Sender"}, msg.From)
	assert.Equal(t, "Stored", msg.Subject)
	assert.Equal(t, "<stored@example.com>", msg.MessageID)
	assert.Equal(t, "Stored body", msg.Body.Text())
	assert.Equal(t, "<p>Stored body</p>", msg.Body.HTML())
	assert.Equal(t, []string{"cc@example.com"}, email.Emails(msg.Cc))
	assert.Equal(t, "abc", msg.Header.Get("X-Trace"))
}

func TestCompose_EMLOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     options
		wantFrom email.Address
		wantSubj string
		wantText string
		wantHTML string
	}{
		{
			name:     "no overrides",
			wantFrom: email.Address{Email: "sender@example.com", Name: "Sender"},
			wantSubj: "Stored",
			wantText: "Stored body",
			wantHTML: "<p>Stored body</p>",
		},
		{
			name:     "new author drops the stored name",
			opts:     options{from: "other@example.com"},
			wantFrom: email.Address{Email: "other@example.com"},
			wantSubj: "Stored",
			wantText: "Stored body",
			wantHTML: "<p>Stored body</p>",
		},
		{
			name:     "name only keeps the stored address",
			opts:     options{fromName: "Renamed"},
			wantFrom: email.Address{Email: "sender@example.com", Name: "Renamed"},
			wantSubj: "Stored",
			wantText: "Stored body",
			wantHTML: "<p>Stored body</p>",
		},
		{
			name:     "subject and plain body",
			opts:     options{subject: "Resent", body: "new text"},
			wantFrom: email.Address{Email: "sender@example.com", Name: "Sender"},
			wantSubj: "Resent",
			wantText: "new text",
		},
		{
			name:     "html only",
			opts:     options{html: "<p>new</p>"},
			wantFrom: email.Address{Email: "sender@example.com", Name: "Sender"},
			wantSubj: "Stored",
			wantHTML: "<p>new</p>",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := tt.opts
			opts.emlPath = writeEML(t, storedEML)
			c := newComposer(&config.Config{}, "stdout")
			require.NoError(t, compose(c, opts))

			msg, err := c.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, msg.From)
			assert.Equal(t, tt.wantSubj, msg.Subject)
			assert.Equal(t, tt.wantText, msg.Body.Text())
			assert.Equal(t, tt.wantHTML, msg.Body.HTML())
			assert.Equal(t, "<stored@example.com>", msg.MessageID)
		})
	}
}

func TestCompose_EMLKeepsCharset(t *testing.T) {
	t.Parallel()

	raw := "From: sender@example.com\r\n" +
		"To: to@example.com\r\n" +
		"Subject: =?ISO-8859-1?q?Gr=FC=DFe?=\r\n" +
		"Content-Type: text/plain; charset=ISO-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"caf=E9\r\n"

	c := newComposer(&config.Config{}, "stdout")
	require.NoError(t, compose(c, options{emlPath: writeEML(t, raw)}))

	msg, err := c.Build()
	require.NoError(t, err)
	assert.Equal(t, "ISO-8859-1", msg.Charset)
	assert.Equal(t, "Grüße", msg.Subject)
	assert.Equal(t, "café", strings.TrimSpace(msg.Body.Text()))
}

func TestSelectProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tests := []struct {
		name     string
		cfg      config.Config
		wantName string
		wantErr  bool
	}{
		{name: "default stdout", cfg: config.Config{}, wantName: "stdout"},
		{name: "explicit stdout", cfg: config.Config{Provider: "stdout", SMTP: config.SMTPConfig{Host: "mail.example.com"}}, wantName: "stdout"},
		{name: "auto smtp", cfg: config.Config{SMTP: config.SMTPConfig{Host: "mail.example.com"}}, wantName: "smtp"},
		{name: "auto graph", cfg: config.Config{Graph: config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "a@example.com"}}, wantName: "msgraph"},
		{name: "resend", cfg: config.Config{Provider: "resend", Resend: config.ResendConfig{APIKey: "re_1"}}, wantName: "resend"},
		{name: "smtp missing host", cfg: config.Config{Provider: "smtp"}, wantErr: true},
		{name: "ses missing region", cfg: config.Config{Provider: "ses"}, wantErr: true},
		{name: "gmail missing credentials", cfg: config.Config{Provider: "gmail"}, wantErr: true},
		{name: "gmail unreadable credentials", cfg: config.Config{Provider: "gmail", Gmail: config.GmailConfig{Sender: "a@example.com", CredentialsFile: "/nonexistent/sa.json"}}, wantErr: true},
		{name: "unknown", cfg: config.Config{Provider: "carrier-pigeon"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			p, err := selectProvider(ctx, &cfg)
			if tt.wantErr {
				assert.Error(t, err, "got provider %v", p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
