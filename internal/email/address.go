package email

import (
	"errors"
	"net/mail"
	"strings"
)

// Address is a validated mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// ParseAddress validates literal as an RFC 5322 mailbox and pairs it with
// name. The literal may be a bare addr-spec or "Name <addr-spec>"; an explicit
// non-empty name wins over one embedded in the literal.
func ParseAddress(literal, name string) (Address, error) {
	if strings.TrimSpace(literal) == "" {
		return Address{}, errors.New("empty address")
	}
	if strings.ContainsAny(name, "\r\n") {
		return Address{}, errors.New("display name contains line break")
	}

	parsed, err := mail.ParseAddress(literal)
	if err != nil {
		return Address{}, err
	}

	at := strings.LastIndexByte(parsed.Address, '@')
	if at <= 0 || at == len(parsed.Address)-1 {
		return Address{}, errors.New("missing local-part or domain")
	}
	if err := validateDomain(parsed.Address[at+1:]); err != nil {
		return Address{}, err
	}

	addr := Address{Email: parsed.Address, Name: parsed.Name}
	if name != "" {
		addr.Name = name
	}
	return addr, nil
}

// String returns the bare address, or the RFC 5322 name-addr form when a
// display name is present. Non-ASCII names are RFC 2047 encoded.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// Domain returns the part after the last '@'.
func (a Address) Domain() string {
	if at := strings.LastIndexByte(a.Email, '@'); at >= 0 {
		return a.Email[at+1:]
	}
	return ""
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Email == ""
}

func validateDomain(domain string) error {
	// Address literals such as [192.0.2.1] were already checked by the parser.
	if strings.HasPrefix(domain, "[") {
		return nil
	}
	if len(domain) > 255 {
		return errors.New("domain too long")
	}

	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return errors.New("empty label in domain")
		}
		if len(label) > 63 {
			return errors.New("domain label too long")
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return errors.New("domain label cannot start or end with hyphen")
		}
		for _, r := range label {
			if !isDomainChar(r) {
				return errors.New("invalid character in domain")
			}
		}
	}
	return nil
}

func isDomainChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		return true
	}
	// Internationalized domains (RFC 6531).
	return r > 127
}
