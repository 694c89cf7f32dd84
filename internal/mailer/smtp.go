package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"

	"passgate/internal/config"
)

const defaultSMTPTimeout = 15 * time.Second

type SMTPSender struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	timeout  time.Duration
}

// NewSMTPSender authenticates with the account's app password. Port 465
// switches to implicit TLS, anything else upgrades with STARTTLS when offered.
func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	return &SMTPSender{
		dialer:   gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		timeout:  timeout,
	}
}

// Send delivers msg over one SMTP session. The connection carries the ctx
// deadline and is closed as soon as ctx is done, so a stalled server never
// outlives the caller.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.deliver(ctx, s.build(msg)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, ctxErr)
		}
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) *gomail.Message {
	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetHeader("From", m.FormatAddress(s.from, s.fromName))
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}
	return m
}

func (s *SMTPSender) deliver(ctx context.Context, m *gomail.Message) error {
	d := s.dialer
	nd := net.Dialer{Timeout: s.timeout}
	raw, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(d.Host, strconv.Itoa(d.Port)))
	if err != nil {
		return err
	}
	defer raw.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := raw.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	conn := raw

	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: d.Host}
	}
	if d.SSL {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, d.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if !d.SSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if d.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", d.Username, d.Password, d.Host)); err != nil {
				return err
			}
		}
	}

	send := gomail.SendFunc(func(from string, to []string, body io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := body.WriteTo(w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err := gomail.Send(send, m); err != nil {
		return err
	}
	return c.Quit()
}
