// Package session describes how a composed message reaches its mail transport
// agent: endpoint, protocol, timeouts, and credentials.
package session

import (
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the SMTP submission port used when none is configured.
	DefaultPort = 25

	// DefaultSSLPort is the implicit-TLS port used when SSLOnConnect is set.
	DefaultSSLPort = 465

	// DefaultConnectTimeout bounds the TCP connect to the transport agent.
	DefaultConnectTimeout = 60 * time.Second

	// DefaultTimeout bounds each read or write once connected.
	DefaultTimeout = 60 * time.Second
)

// ErrNoHost is returned when a session is requested but no host is configured.
var ErrNoHost = errors.New("session: no host configured")

// Protocol is the transport protocol spoken to the mail transport agent.
type Protocol string

const (
	ProtocolSMTP  Protocol = "smtp"
	ProtocolSMTPS Protocol = "smtps"
)

// Session is a resolved, ready-to-use transport session. A Session may be
// built by the caller and injected into a composer, in which case its
// endpoint takes precedence over any separately configured host or port.
type Session struct {
	Protocol Protocol
	Host     string
	Port     int

	// ConnectTimeout bounds establishing the connection.
	ConnectTimeout time.Duration
	// Timeout bounds each read or write on the established connection.
	Timeout time.Duration

	Username string
	Password string

	// StartTLS upgrades a plain connection when the server advertises it.
	// StartTLSRequired fails the delivery when the server does not.
	StartTLS         bool
	StartTLSRequired bool

	// LocalName is the client identity sent in EHLO.
	LocalName string
}

// Addr returns the host:port dial address.
func (s *Session) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthEnabled reports whether credentials are configured.
func (s *Session) AuthEnabled() bool {
	return s.Username != "" && s.Password != ""
}

// Config holds the explicit transport settings a composer synthesizes a
// Session from. The zero value is usable once Host is set.
type Config struct {
	Host string
	// Port is used for plain SMTP. Zero means DefaultPort.
	Port int
	// SSLPort is used when SSLOnConnect is set. Zero means DefaultSSLPort.
	SSLPort      int
	SSLOnConnect bool

	StartTLS         bool
	StartTLSRequired bool

	// ConnectTimeout and Timeout fall back to their defaults when not positive.
	ConnectTimeout time.Duration
	Timeout        time.Duration

	Username  string
	Password  string
	LocalName string
}

// EffectiveConnectTimeout returns the configured connect timeout or the default.
func (c Config) EffectiveConnectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// EffectiveTimeout returns the configured socket timeout or the default.
func (c Config) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// EffectivePort returns the port a synthesized session would dial.
func (c Config) EffectivePort() int {
	if c.SSLOnConnect {
		if c.SSLPort > 0 {
			return c.SSLPort
		}
		return DefaultSSLPort
	}
	if c.Port > 0 {
		return c.Port
	}
	return DefaultPort
}

// Session synthesizes a Session from the configuration.
func (c Config) Session() (*Session, error) {
	if c.Host == "" {
		return nil, ErrNoHost
	}

	protocol := ProtocolSMTP
	if c.SSLOnConnect {
		protocol = ProtocolSMTPS
	}

	localName := c.LocalName
	if localName == "" {
		localName = "localhost"
	}

	return &Session{
		Protocol:         protocol,
		Host:             c.Host,
		Port:             c.EffectivePort(),
		ConnectTimeout:   c.EffectiveConnectTimeout(),
		Timeout:          c.EffectiveTimeout(),
		Username:         c.Username,
		Password:         c.Password,
		StartTLS:         c.StartTLS || c.StartTLSRequired,
		StartTLSRequired: c.StartTLSRequired,
		LocalName:        localName,
	}, nil
}
