package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/campusiq-api/pkg/config"
)

// ErrDisabled is returned when no SMTP host is configured.
var ErrDisabled = errors.New("mailer disabled")

// Message is a plain-text e-mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	addr string
	host string
	from string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// NewSMTP builds a mailer from configuration.
func NewSMTP(cfg config.SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{
		host: cfg.Host,
		from: cfg.From,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Host != "" {
		m.addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	if cfg.Username != "" {
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return m
}

// Enabled reports whether a relay is configured.
func (m *SMTPMailer) Enabled() bool {
	return m != nil && m.addr != ""
}

// Send delivers msg. The context only bounds the wait; net/smtp has no cancellation.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mailer: empty recipient")
	}
	payload := m.compose(msg)

	done := make(chan error, 1)
	go func() {
		done <- m.send(m.addr, m.auth, m.from, []string{msg.To}, payload)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	}
}

func (m *SMTPMailer) compose(msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return buf.Bytes()
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}
