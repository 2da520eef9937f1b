// Package smtp implements a Provider that delivers messages to a mail
// transport agent over SMTP, using the session carried by each message.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mime"
	"github.com/shineum/mail-composer/internal/session"
	tlsutil "github.com/shineum/mail-composer/internal/tls"
)

var (
	// ErrNoSession is returned for messages built without a transport session.
	ErrNoSession = errors.New("smtp: message has no session")

	// ErrStartTLSUnavailable is returned when STARTTLS is required but the
	// server does not advertise it.
	ErrStartTLSUnavailable = errors.New("smtp: server does not support STARTTLS")

	// ErrAuthUnsupported is returned when credentials are configured but the
	// server offers no mechanism the client speaks.
	ErrAuthUnsupported = errors.New("smtp: no supported AUTH mechanism")
)

// SMTPProviderConfig holds the configuration for creating a SMTPProvider.
type SMTPProviderConfig struct {
	TLS tlsutil.ClientOptions
}

// SMTPProvider sends messages to the host named in each message's session.
type SMTPProvider struct {
	tls tlsutil.ClientOptions
}

// New creates a new SMTPProvider.
func New(cfg SMTPProviderConfig) *SMTPProvider {
	return &SMTPProvider{tls: cfg.TLS}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// Send opens a connection as described by msg.Session, authenticates when
// credentials are set, and transfers the rendered message to the envelope
// recipients. Bcc recipients are part of the envelope but never of the
// rendered headers.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Message) error {
	sess := msg.Session
	if sess == nil {
		return ErrNoSession
	}

	raw, err := mime.Render(msg)
	if err != nil {
		return fmt.Errorf("smtp: render message: %w", err)
	}

	tlsCfg, err := tlsutil.ClientConfig(sess.Host, p.tls)
	if err != nil {
		return fmt.Errorf("smtp: tls config: %w", err)
	}

	conn, err := p.dial(ctx, sess, tlsCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock any pending read or write when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := p.transfer(conn, sess, tlsCfg, msg, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp: %w", ctxErr)
		}
		return err
	}

	slog.Info("message delivered",
		"provider", p.Name(),
		"addr", sess.Addr(),
		"message_id", msg.MessageID,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// dial connects to the session endpoint within the connect timeout. For
// SMTPS the TLS handshake completes before the function returns.
func (p *SMTPProvider) dial(ctx context.Context, sess *session.Session, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: sess.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", sess.Addr())
	if err != nil {
		return nil, fmt.Errorf("smtp: connect %s: %w", sess.Addr(), err)
	}

	conn := net.Conn(&timeoutConn{Conn: raw, timeout: sess.Timeout})

	if sess.Protocol == session.ProtocolSMTPS {
		tlsConn := tls.Client(conn, tlsCfg)
		hsCtx, cancel := context.WithTimeout(ctx, sess.ConnectTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("smtp: tls handshake with %s: %w", sess.Addr(), err)
		}
		conn = tlsConn
	}

	return conn, nil
}

func (p *SMTPProvider) transfer(conn net.Conn, sess *session.Session, tlsCfg *tls.Config, msg *email.Message, raw []byte) error {
	c, err := smtp.NewClient(conn, sess.Host)
	if err != nil {
		return fmt.Errorf("smtp: greeting: %w", err)
	}
	defer c.Close()

	if err := c.Hello(sess.LocalName); err != nil {
		return fmt.Errorf("smtp: hello: %w", err)
	}

	if sess.Protocol == session.ProtocolSMTP && sess.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("smtp: starttls: %w", err)
			}
		} else if sess.StartTLSRequired {
			return ErrStartTLSUnavailable
		} else {
			slog.Warn("server does not offer STARTTLS, continuing in plain text",
				"addr", sess.Addr(),
			)
		}
	}

	if sess.AuthEnabled() {
		ok, mechs := c.Extension("AUTH")
		if !ok {
			return fmt.Errorf("%w: server does not advertise AUTH", ErrAuthUnsupported)
		}
		auth, err := chooseAuth(mechs, sess.Username, sess.Password, sess.Host)
		if err != nil {
			return err
		}
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp: auth: %w", err)
		}
	}

	if err := c.Mail(msg.EnvelopeFrom()); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := c.Rcpt(rcpt.Email); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt.Email, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp: data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp: write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: end data: %w", err)
	}

	if err := c.Quit(); err != nil {
		slog.Debug("smtp quit failed", "error", err)
	}
	return nil
}

// timeoutConn applies the session I/O timeout to every read and write.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
