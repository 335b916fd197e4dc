package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/wneessen/go-mail"
)

type SMTPOptions struct {
	Server        string
	Port          int
	User          string
	Password      string
	Secure        string // tls | ssl | none
	From          string
	SubjectPrefix string
	Recipients    []string
}

// SMTPOptionsFromViper reads the smtp.* keys. Subject prefix and default
// recipients come from the device document and are set by the caller.
func SMTPOptionsFromViper() SMTPOptions {
	return SMTPOptions{
		Server:   viper.GetString(config.SmtpServer),
		Port:     config.Int(config.SmtpPort, constants.SmtpDefaultPort),
		User:     viper.GetString(config.SmtpUser),
		Password: viper.GetString(config.SmtpPassword),
		Secure:   config.String(config.SmtpSecure, constants.SmtpDefaultSecure),
		From:     viper.GetString(config.SmtpReturnEmail),
	}
}

type SMTPSender struct {
	mu     sync.Mutex
	client *mail.Client
	opts   SMTPOptions
}

func NewSMTPSender(o SMTPOptions) (*SMTPSender, error) {
	if o.Server == "" {
		return nil, errors.New("smtp server is not configured")
	}
	if o.From == "" {
		o.From = o.User
	}

	copts := []mail.Option{mail.WithPort(o.Port)}
	switch strings.ToLower(o.Secure) {
	case "ssl":
		copts = append(copts, mail.WithSSL())
	case "none":
		copts = append(copts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		copts = append(copts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if o.User != "" {
		copts = append(copts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(o.User),
			mail.WithPassword(o.Password),
		)
	}

	c, err := mail.NewClient(o.Server, copts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return &SMTPSender{client: c, opts: o}, nil
}

// SetDefaults replaces the subject prefix and fallback recipients after a device config reload.
func (s *SMTPSender) SetDefaults(subjectPrefix string, recipients []string) {
	s.mu.Lock()
	s.opts.SubjectPrefix = subjectPrefix
	s.opts.Recipients = append([]string(nil), recipients...)
	s.mu.Unlock()
}

func (s *SMTPSender) Send(ctx context.Context, message string, recipients []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(recipients) == 0 {
		recipients = s.opts.Recipients
	}
	if len(recipients) == 0 {
		return Fatal(errors.New("no email recipients configured"))
	}

	msg := mail.NewMsg()
	if err := msg.From(s.opts.From); err != nil {
		return Fatal(errors.Wrapf(err, "invalid sender address %q", s.opts.From))
	}
	if err := msg.To(recipients...); err != nil {
		return Fatal(errors.Wrap(err, "invalid recipient address"))
	}
	msg.Subject(strings.TrimSpace(fmt.Sprintf("%s %s", s.opts.SubjectPrefix, firstLine(message))))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, message)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		var sendErr *mail.SendError
		if errors.As(err, &sendErr) && !sendErr.IsTemp() {
			return Fatal(errors.Wrap(err, "smtp send"))
		}
		return errors.Wrap(err, "smtp send")
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 78 {
		s = s[:78]
	}
	return s
}
