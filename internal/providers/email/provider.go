package email

import "context"

// Attachment is a file carried with an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Provider interface {
	Send(ctx context.Context, to []string, subject, htmlBody string, attachments ...Attachment) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject, htmlBody string, attachments ...Attachment) error {
	return nil
}
