package email

import (
	"errors"
	"slices"
)

const (
	MediaTypeText = "text/plain"
	MediaTypeHTML = "text/html"
)

// Part is one alternative representation of the message body.
type Part struct {
	MediaType string
	Content   string
}

// Body holds the message content. A single part is sent as a single-part
// message; several parts are sent as multipart/alternative in order of
// increasing preference.
type Body struct {
	Parts []Part
}

// Text returns the first text/plain part, or "".
func (b Body) Text() string {
	return b.content(MediaTypeText)
}

// HTML returns the first text/html part, or "".
func (b Body) HTML() string {
	return b.content(MediaTypeHTML)
}

// IsMultipart reports whether the body has more than one part.
func (b Body) IsMultipart() bool {
	return len(b.Parts) > 1
}

// IsZero reports whether no body has been set.
func (b Body) IsZero() bool {
	return len(b.Parts) == 0
}

func (b Body) content(mediaType string) string {
	for _, p := range b.Parts {
		if p.MediaType == mediaType {
			return p.Content
		}
	}
	return ""
}

func (b Body) clone() Body {
	return Body{Parts: slices.Clone(b.Parts)}
}

// BodyFormat turns the text handed to Email.SetBody into a Body.
type BodyFormat interface {
	Format(text string) (Body, error)
}

// BodyFormatFunc adapts a function to BodyFormat.
type BodyFormatFunc func(text string) (Body, error)

func (f BodyFormatFunc) Format(text string) (Body, error) {
	return f(text)
}

var (
	// PlainText sends the text as a single text/plain part.
	PlainText BodyFormat = BodyFormatFunc(func(text string) (Body, error) {
		return Body{Parts: []Part{{MediaType: MediaTypeText, Content: text}}}, nil
	})

	// HTML sends the text as a single text/html part.
	HTML BodyFormat = BodyFormatFunc(func(text string) (Body, error) {
		return Body{Parts: []Part{{MediaType: MediaTypeHTML, Content: text}}}, nil
	})
)

// Alternative sends the text as the plain-text part of a multipart/alternative
// body whose preferred part is html.
func Alternative(html string) BodyFormat {
	return BodyFormatFunc(func(text string) (Body, error) {
		if html == "" {
			return Body{}, errors.New("alternative body requires html content")
		}
		return Body{Parts: []Part{
			{MediaType: MediaTypeText, Content: text},
			{MediaType: MediaTypeHTML, Content: html},
		}}, nil
	})
}
