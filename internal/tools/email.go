package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

type SendEmailInput struct {
	To      string `json:"to" jsonschema:"required,description=Recipient email address"`
	Subject string `json:"subject" jsonschema:"required,description=Email subject line"`
	Body    string `json:"body" jsonschema:"required,description=Email body text"`
}

// EmailSender delivers one email. The default implementation only logs; real
// deployments swap in an SMTP/API-backed sender.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender records the send without delivering anything.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, body string) error {
	slog.Info("email sent", "to", to, "subject", subject, "body_len", len(body))
	return nil
}

type sendEmailToolImpl struct {
	sender EmailSender
}

func (s *sendEmailToolImpl) execute(ctx context.Context, input *SendEmailInput) (string, error) {
	to := strings.TrimSpace(input.To)
	if to == "" {
		return "", fmt.Errorf("to is required")
	}
	if err := s.sender.Send(ctx, to, input.Subject, input.Body); err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	return fmt.Sprintf("Email sent successfully to %s.", to), nil
}

// NewSendEmailTool creates the email tool over the given sender.
func NewSendEmailTool(sender EmailSender) (tool.InvokableTool, error) {
	if sender == nil {
		sender = LogSender{}
	}
	impl := &sendEmailToolImpl{sender: sender}
	return utils.InferTool("send_email", "Send an email to the specified address with the given subject and body.", impl.execute)
}
