package smtp

import (
	"errors"
	"fmt"
	"net/smtp"
	"slices"
	"strings"
)

// loginAuth implements the SASL LOGIN mechanism, which net/smtp does not
// provide. Like smtp.PlainAuth it refuses to send credentials over an
// unencrypted connection unless the server is on localhost.
type loginAuth struct {
	username string
	password string
	host     string
	step     int
}

// LoginAuth returns an smtp.Auth that answers the LOGIN username and
// password challenges.
func LoginAuth(username, password, host string) smtp.Auth {
	return &loginAuth{username: username, password: password, host: host}
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	a.step = 0
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}

	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		a.step = 1
		return []byte(a.username), nil
	case "password:":
		a.step = 2
		return []byte(a.password), nil
	}

	// Some servers send non-standard prompts; answer in order.
	a.step++
	switch a.step {
	case 1:
		return []byte(a.username), nil
	case 2:
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
	}
}

// chooseAuth picks PLAIN when advertised, then LOGIN.
func chooseAuth(advertised, username, password, host string) (smtp.Auth, error) {
	mechs := strings.Fields(strings.ToUpper(advertised))
	switch {
	case slices.Contains(mechs, "PLAIN"):
		return smtp.PlainAuth("", username, password, host), nil
	case slices.Contains(mechs, "LOGIN"):
		return LoginAuth(username, password, host), nil
	default:
		return nil, fmt.Errorf("%w: server offers %q", ErrAuthUnsupported, advertised)
	}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
