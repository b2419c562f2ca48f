package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/councilworks/objector/internal/config"
	"github.com/google/uuid"
	mail "github.com/wneessen/go-mail"
)

// Message is the transport-level email shape.
type Message struct {
	To      string
	From    string
	ReplyTo string
	CC      []string
	Subject string
	Text    string
	HTML    string

	Attachments []Attachment
}

// SendError classifies a failed send. Permanent errors (rejected address,
// policy refusal) go terminal immediately; everything else is retried.
type SendError struct {
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s send failure: %v", kind, e.Err)
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Mailer is the outbound transport. Send returns the provider message id
// on success.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPMailer delivers through an SMTP relay via go-mail. from and replyTo
// are the configured defaults, used when the message leaves them empty.
type SMTPMailer struct {
	cfg     config.SMTPConfig
	from    string
	replyTo string
}

func NewSMTPMailer(cfg config.SMTPConfig, from, replyTo string) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("missing smtp host")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("missing from address")
	}
	return &SMTPMailer{cfg: cfg, from: from, replyTo: replyTo}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	if m == nil {
		return "", errors.New("nil mailer")
	}

	from := trimmedOr(msg.From, m.from)
	replyTo := trimmedOr(msg.ReplyTo, m.replyTo)

	em := mail.NewMsg()
	if err := em.From(from); err != nil {
		return "", &SendError{Permanent: true, Err: fmt.Errorf("from address: %w", err)}
	}
	if err := em.To(msg.To); err != nil {
		return "", &SendError{Permanent: true, Err: fmt.Errorf("to address: %w", err)}
	}
	if len(msg.CC) > 0 {
		if err := em.Cc(msg.CC...); err != nil {
			return "", &SendError{Permanent: true, Err: fmt.Errorf("cc address: %w", err)}
		}
	}
	if replyTo != "" {
		if err := em.ReplyTo(replyTo); err != nil {
			return "", &SendError{Permanent: true, Err: fmt.Errorf("reply-to address: %w", err)}
		}
	}
	em.Subject(msg.Subject)
	em.SetBodyString(mail.TypeTextPlain, msg.Text)
	if strings.TrimSpace(msg.HTML) != "" {
		em.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, a := range msg.Attachments {
		em.AttachReader(a.Filename, bytes.NewReader(a.Content))
	}

	messageID := fmt.Sprintf("%s@objector", uuid.NewString())
	em.SetMessageIDWithValue(messageID)

	opts := []mail.Option{}
	if m.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(m.cfg.Port))
	}
	if strings.TrimSpace(m.cfg.Username) != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	if m.cfg.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return "", &SendError{Permanent: true, Err: fmt.Errorf("smtp client: %w", err)}
	}

	if err := client.DialAndSendWithContext(ctx, em); err != nil {
		return "", classifySendErr(err)
	}
	return messageID, nil
}

func trimmedOr(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func classifySendErr(err error) error {
	var se *mail.SendError
	if errors.As(err, &se) {
		// go-mail flags 4xx responses as temporary; everything else at the
		// SMTP level is a hard rejection.
		return &SendError{Permanent: !se.IsTemp(), Err: err}
	}
	// Dial/handshake problems without an SMTP status: assume transient.
	return &SendError{Err: err}
}
