package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	gomail "github.com/wneessen/go-mail"

	"github.com/platinummonkey/opsdesk/pkg/config"
)

// Message is an outbound email
type Message struct {
	To        []string
	Subject   string
	Body      string
	InReplyTo *string
}

// Sender delivers outbound mail and returns the Message-ID it was sent with
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPSender delivers mail over SMTP, dialing once per message
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	from     string
	domain   string
}

// NewSMTPSender creates a sender from the mail configuration
func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.FromAddress == "" {
		return nil, errors.New("from address is required")
	}

	domain := "localhost"
	if at := strings.LastIndex(cfg.FromAddress, "@"); at >= 0 && at < len(cfg.FromAddress)-1 {
		domain = strings.TrimSuffix(cfg.FromAddress[at+1:], ">")
	}

	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		useTLS:   cfg.SMTPUseTLS,
		from:     cfg.FromAddress,
		domain:   domain,
	}, nil
}

// From returns the sending address
func (s *SMTPSender) From() string {
	return s.from
}

// Send delivers msg
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	m, id, err := s.build(msg)
	if err != nil {
		return "", err
	}

	client, err := gomail.NewClient(s.host, s.options()...)
	if err != nil {
		return "", fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("failed to send mail: %w", err)
	}
	return id, nil
}

func (s *SMTPSender) options() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTimeout(30 * time.Second),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}
	if s.useTLS {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSMandatory))
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}
	return opts
}

// build assembles the MIME message and its Message-ID
func (s *SMTPSender) build(msg Message) (*gomail.Msg, string, error) {
	if len(msg.To) == 0 {
		return nil, "", errors.New("no recipients")
	}

	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, "", fmt.Errorf("failed to set from: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, "", fmt.Errorf("failed to set recipients: %w", err)
	}

	// CR/LF in a subject would start a new header
	m.Subject(strings.NewReplacer("\r", "", "\n", " ").Replace(msg.Subject))
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	id := ulid.Make().String() + "@" + s.domain
	m.SetMessageIDWithValue(id)
	if msg.InReplyTo != nil && *msg.InReplyTo != "" {
		ref := "<" + strings.Trim(*msg.InReplyTo, "<>") + ">"
		m.SetGenHeader(gomail.HeaderInReplyTo, ref)
		m.SetGenHeader(gomail.HeaderReferences, ref)
	}
	return m, id, nil
}
