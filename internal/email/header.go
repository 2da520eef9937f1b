package email

import (
	"slices"
	"strings"
)

// Field is a single header occurrence.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered, multi-valued header set. Names are case-sensitive and
// adding a name that is already present appends another occurrence.
type Header struct {
	fields []Field
}

// Add appends an occurrence of name. It does not validate; callers that take
// user input go through Email.AddHeader.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in insertion order.
func (h Header) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

// Names returns the distinct names in order of first appearance.
func (h Header) Names() []string {
	var names []string
	for _, f := range h.fields {
		if !slices.Contains(names, f.Name) {
			names = append(names, f.Name)
		}
	}
	return names
}

// Fields returns a copy of all occurrences in insertion order.
func (h Header) Fields() []Field {
	return slices.Clone(h.fields)
}

// Len returns the number of occurrences.
func (h Header) Len() int {
	return len(h.fields)
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	return Header{fields: slices.Clone(h.fields)}
}

// reservedHeaders are rendered from Message fields.
var reservedHeaders = []string{
	"Date",
	"From",
	"Reply-To",
	"To",
	"Cc",
	"Bcc",
	"Message-ID",
	"Subject",
	"MIME-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
}

// IsReservedHeader reports whether name is one of the fields a rendered
// message carries from its own data. Field names compare case-insensitively.
func IsReservedHeader(name string) bool {
	for _, r := range reservedHeaders {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// validateHeader rejects names that are not RFC 5322 field names and values
// that could inject additional header lines.
func validateHeader(name, value string) error {
	if name == "" {
		return &InvalidHeaderError{Name: name, Reason: "empty name"}
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 33 || c > 126 || c == ':' {
			return &InvalidHeaderError{Name: name, Reason: "name contains invalid character"}
		}
	}
	if strings.ContainsAny(value, "\r\n") {
		return &InvalidHeaderError{Name: name, Reason: "value contains line break"}
	}
	return nil
}

// validateText rejects control characters other than horizontal tab.
func validateText(name, value string) error {
	for _, r := range value {
		if (r < 32 && r != '\t') || r == 127 {
			return &InvalidHeaderError{Name: name, Reason: "value contains control character"}
		}
	}
	return nil
}
