// Package main is the entry point for the mail composer CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineum/mail-composer/internal/config"
	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mime"
	"github.com/shineum/mail-composer/internal/provider"
	"github.com/shineum/mail-composer/internal/provider/gmail"
	"github.com/shineum/mail-composer/internal/provider/graph"
	"github.com/shineum/mail-composer/internal/provider/resend"
	"github.com/shineum/mail-composer/internal/provider/ses"
	smtpprovider "github.com/shineum/mail-composer/internal/provider/smtp"
	"github.com/shineum/mail-composer/internal/provider/stdout"
	tlsutil "github.com/shineum/mail-composer/internal/tls"
)

// listFlag collects a flag that may be repeated or given as a comma-separated list.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}
	return nil
}

// headerFlag collects repeated "Name: value" header flags.
type headerFlag []email.Field

func (h *headerFlag) String() string {
	parts := make([]string, len(*h))
	for i, f := range *h {
		parts[i] = f.Name + ": " + f.Value
	}
	return strings.Join(parts, "; ")
}

func (h *headerFlag) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("header %q must be in the form Name: value", v)
	}
	*h = append(*h, email.Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	return nil
}

// options is the parsed command line.
type options struct {
	configPath string
	from       string
	fromName   string
	to         listFlag
	cc         listFlag
	bcc        listFlag
	replyTo    listFlag
	subject    string
	body       string
	html       string
	emlPath    string
	headers    headerFlag
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	flag.StringVar(&opts.from, "from", "", "author address")
	flag.StringVar(&opts.fromName, "from-name", "", "author display name")
	flag.Var(&opts.to, "to", "To recipient (repeatable or comma-separated)")
	flag.Var(&opts.cc, "cc", "Cc recipient (repeatable or comma-separated)")
	flag.Var(&opts.bcc, "bcc", "Bcc recipient (repeatable or comma-separated)")
	flag.Var(&opts.replyTo, "reply-to", "Reply-To address (repeatable or comma-separated)")
	flag.StringVar(&opts.subject, "subject", "", "message subject")
	flag.StringVar(&opts.body, "body", "", "plain-text body")
	flag.StringVar(&opts.html, "html", "", "HTML body; sent as multipart/alternative with -body")
	flag.StringVar(&opts.emlPath, "eml", "", "re-send an RFC 5322 message file; -from, -from-name, -subject, -body and -html override its fields")
	flag.Var(&opts.headers, "header", "extra header as \"Name: value\" (repeatable)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to select provider", "error", err)
		os.Exit(1)
	}

	composer := newComposer(cfg, prov.Name())
	if err := compose(composer, opts); err != nil {
		slog.Error("failed to compose message", "error", err)
		os.Exit(1)
	}

	msg, err := composer.Build()
	if err != nil {
		slog.Error("failed to build message", "error", err)
		os.Exit(1)
	}

	slog.Debug("sending message",
		"provider", prov.Name(),
		"message_id", msg.MessageID,
		"recipients", len(msg.Recipients()),
	)

	if err := prov.Send(ctx, msg); err != nil {
		slog.Error("failed to send message", "provider", prov.Name(), "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// parseLevel maps a configured level name to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// newComposer creates a composer from the configured transport settings.
// API providers do not dial a transport agent, so a missing SMTP host is
// filled with localhost for them.
func newComposer(cfg *config.Config, providerName string) *email.Email {
	sc := cfg.SessionConfig()
	if sc.Host == "" && providerName != "smtp" {
		sc.Host = "localhost"
	}
	return email.New(email.WithSessionConfig(sc))
}

// compose fills c either from an .eml file or from the command-line fields.
// For an .eml message, -from, -from-name, -subject, -body and -html replace
// what the file carries when they are given.
func compose(c *email.Email, opts options) error {
	if opts.emlPath == "" {
		if err := c.SetFrom(opts.from, opts.fromName); err != nil {
			return err
		}
		if err := composeOverrides(c, opts); err != nil {
			return err
		}
		if err := c.SetSubject(opts.subject); err != nil {
			return err
		}
		return composeBody(c, opts.body, opts.html)
	}

	raw, err := os.ReadFile(opts.emlPath)
	if err != nil {
		return fmt.Errorf("failed to read message file: %w", err)
	}
	parsed, err := mime.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse message file: %w", err)
	}
	if parsed.Body.HTML() != "" && parsed.Body.Text() != "" {
		c.SetBodyFormat(email.Alternative(parsed.Body.HTML()))
	} else if parsed.Body.HTML() != "" {
		c.SetBodyFormat(email.HTML)
	}
	if err := email.Populate(c, parsed); err != nil {
		return err
	}
	if err := c.SetCharset(parsed.Charset); err != nil {
		return err
	}

	if opts.from != "" || opts.fromName != "" {
		from, _ := c.FromAddress()
		literal := opts.from
		if literal == "" {
			literal = from.Email
		}
		name := opts.fromName
		if name == "" && opts.from == "" {
			name = from.Name
		}
		if err := c.SetFrom(literal, name); err != nil {
			return err
		}
	}
	if opts.subject != "" {
		if err := c.SetSubject(opts.subject); err != nil {
			return err
		}
	}
	if opts.body != "" || opts.html != "" {
		c.SetBodyFormat(email.PlainText)
		if err := composeBody(c, opts.body, opts.html); err != nil {
			return err
		}
	}
	return composeOverrides(c, opts)
}

// composeBody picks the body format from which of text and html are set.
func composeBody(c *email.Email, text, html string) error {
	switch {
	case html != "" && text != "":
		c.SetBodyFormat(email.Alternative(html))
		return c.SetBody(text)
	case html != "":
		c.SetBodyFormat(email.HTML)
		return c.SetBody(html)
	default:
		return c.SetBody(text)
	}
}

// composeOverrides adds the recipients and headers given on the command line.
// For an .eml message they are appended to what the file already carries.
func composeOverrides(c *email.Email, opts options) error {
	lists := []struct {
		add  func(string, string) (email.Address, error)
		list []string
	}{
		{c.AddTo, opts.to},
		{c.AddCc, opts.cc},
		{c.AddBcc, opts.bcc},
		{c.AddReplyTo, opts.replyTo},
	}
	for _, l := range lists {
		for _, literal := range l.list {
			if _, err := l.add(literal, ""); err != nil {
				return err
			}
		}
	}
	for _, f := range opts.headers {
		if err := c.AddHeader(f.Name, f.Value); err != nil {
			return err
		}
	}
	return nil
}

// selectProvider chooses the email delivery backend based on configuration.
// If the PROVIDER setting is given, it takes precedence. Otherwise it falls
// back to auto-detection in the order smtp, graph, ses, resend, gmail, stdout.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("smtp provider selected but SMTP_HOST is required")
		}
		return newSMTP(cfg), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSES(ctx, cfg)

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		return newGraph(cfg), nil

	case "resend":
		if !cfg.ResendConfigured() {
			return nil, errors.New("resend provider selected but RESEND_API_KEY is required")
		}
		return newResend(cfg), nil

	case "gmail":
		if !cfg.GmailConfigured() {
			return nil, errors.New("gmail provider selected but GMAIL_SENDER and GMAIL_CREDENTIALS_FILE or GMAIL_REFRESH_TOKEN are required")
		}
		return newGmail(ctx, cfg)

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		switch {
		case cfg.SMTPConfigured():
			return newSMTP(cfg), nil
		case cfg.GraphConfigured():
			return newGraph(cfg), nil
		case cfg.SESConfigured():
			return newSES(ctx, cfg)
		case cfg.ResendConfigured():
			return newResend(cfg), nil
		case cfg.GmailConfigured():
			return newGmail(ctx, cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newSMTP(cfg *config.Config) provider.Provider {
	slog.Info("using SMTP provider",
		"host", cfg.SMTP.Host,
		"port", cfg.SessionConfig().EffectivePort(),
		"ssl_on_connect", cfg.SMTP.SSLOnConnect,
		"auth_enabled", cfg.AuthEnabled(),
	)
	return smtpprovider.New(smtpprovider.SMTPProviderConfig{
		TLS: tlsutil.ClientOptions{
			CAFile:             cfg.SMTP.CAFile,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		},
	})
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
	})
}

func newResend(cfg *config.Config) provider.Provider {
	slog.Info("using Resend provider",
		"sender", cfg.Resend.Sender,
	)
	return resend.New(resend.ResendProviderConfig{
		APIKey: cfg.Resend.APIKey,
		Sender: cfg.Resend.Sender,
	})
}

func newGmail(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using Gmail provider",
		"sender", cfg.Gmail.Sender,
	)
	gc := gmail.GmailProviderConfig{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RefreshToken: cfg.Gmail.RefreshToken,
		Sender:       cfg.Gmail.Sender,
	}
	if cfg.Gmail.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.Gmail.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read gmail credentials: %w", err)
		}
		gc.CredentialsJSON = string(data)
	}
	p, err := gmail.New(ctx, gc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail provider: %w", err)
	}
	return p, nil
}
