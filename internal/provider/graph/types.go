// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"log/slog"
	"strings"

	"github.com/shineum/mail-composer/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string           `json:"subject"`
	Body                   messageBody      `json:"body"`
	From                   *recipient       `json:"from,omitempty"`
	ToRecipients           []recipient      `json:"toRecipients"`
	CcRecipients           []recipient      `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient      `json:"bccRecipients,omitempty"`
	ReplyTo                []recipient      `json:"replyTo,omitempty"`
	InternetMessageID      string           `json:"internetMessageId,omitempty"`
	InternetMessageHeaders []internetHeader `json:"internetMessageHeaders,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// internetHeader is a custom header carried on the Graph message.
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a built message into a Graph API sendMail request body.
// Graph only accepts custom headers whose names start with "X-"; others are
// dropped with a warning.
func buildSendMailRequest(msg *email.Message) *sendMailRequest {
	// Graph carries a single body, so HTML wins when both parts exist.
	body := messageBody{
		ContentType: "text",
		Content:     msg.Body.Text(),
	}
	if html := msg.Body.HTML(); html != "" {
		body.ContentType = "html"
		body.Content = html
	}

	var headers []internetHeader
	for _, f := range msg.Header.Fields() {
		if !strings.HasPrefix(strings.ToLower(f.Name), "x-") {
			slog.Warn("dropping header not supported by Graph API", "header", f.Name)
			continue
		}
		headers = append(headers, internetHeader{Name: f.Name, Value: f.Value})
	}

	out := &sendMailRequest{
		Message: sendMailMessage{
			Subject:                msg.Subject,
			Body:                   body,
			ToRecipients:           toRecipients(msg.To),
			CcRecipients:           toRecipients(msg.Cc),
			BccRecipients:          toRecipients(msg.Bcc),
			ReplyTo:                toRecipients(msg.ReplyTo),
			InternetMessageID:      msg.MessageID,
			InternetMessageHeaders: headers,
		},
		SaveToSentItems: true,
	}
	if !msg.From.IsZero() {
		out.Message.From = &recipient{
			EmailAddress: emailAddress{Address: msg.From.Email, Name: msg.From.Name},
		}
	}
	return out
}

func toRecipients(list []email.Address) []recipient {
	out := make([]recipient, 0, len(list))
	for _, a := range list {
		out = append(out, recipient{
			EmailAddress: emailAddress{Address: a.Email, Name: a.Name},
		})
	}
	return out
}
