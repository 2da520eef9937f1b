package email

import "fmt"

// Populate replays msg into c, validating every field on the way in. It is
// used to re-send a parsed message through a fresh composer. The body is
// passed through c's body format using the plain-text part, or the HTML part
// when there is no plain text.
func Populate(c Composer, msg *Message) error {
	if !msg.From.IsZero() {
		if err := c.SetFrom(msg.From.Email, msg.From.Name); err != nil {
			return err
		}
	}

	lists := []struct {
		add  func(string, string) (Address, error)
		list []Address
	}{
		{c.AddTo, msg.To},
		{c.AddCc, msg.Cc},
		{c.AddBcc, msg.Bcc},
		{c.AddReplyTo, msg.ReplyTo},
	}
	for _, l := range lists {
		for _, a := range l.list {
			if _, err := l.add(a.Email, a.Name); err != nil {
				return err
			}
		}
	}

	for _, f := range msg.Header.Fields() {
		if err := c.AddHeader(f.Name, f.Value); err != nil {
			return fmt.Errorf("replay header: %w", err)
		}
	}
	if err := c.SetSubject(msg.Subject); err != nil {
		return err
	}

	text := msg.Body.Text()
	if text == "" {
		text = msg.Body.HTML()
	}
	if err := c.SetBody(text); err != nil {
		return err
	}

	if !msg.SentDate.IsZero() {
		c.SetSentDate(msg.SentDate)
	}
	if msg.MessageID != "" {
		if err := c.SetMessageID(msg.MessageID); err != nil {
			return err
		}
	}
	return nil
}
