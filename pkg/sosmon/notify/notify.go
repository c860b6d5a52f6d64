// Package notify mails the alerts collected during a monitoring run.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("no recipients configured")

// Subject returns the alert subject line for site.
func Subject(site string) string {
	return fmt.Sprintf("Cliosoft Alert: %s disk monitoring detected issues", strings.ToUpper(site))
}

// Mailer delivers plain-text messages through an SMTP relay.
type Mailer struct {
	// Addr is the relay's host:port.
	Addr string

	From string
	To   []string

	// Username and Password enable PLAIN authentication when set.
	Username string
	Password string

	// StartTLS upgrades the connection before authenticating.
	StartTLS bool

	// TLSConfig overrides the STARTTLS settings. By default the relay's
	// host name is verified against the system roots.
	TLSConfig *tls.Config

	Clock clock.Clock
}

// Send delivers one message whose body is lines joined by CRLF.
func (m *Mailer) Send(ctx context.Context, subject string, lines []string) error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from, to, msg, err := m.compose(subject, lines)
	if err != nil {
		return err
	}

	c, err := m.dial()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", m.Addr, err)
	}
	defer func() { _ = c.Close() }()

	if m.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", m.Username, m.Password)); err != nil {
			return fmt.Errorf("authenticating as %s: %w", m.Username, err)
		}
	}

	if err := c.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return c.Quit()
}

func (m *Mailer) dial() (*smtp.Client, error) {
	if !m.StartTLS {
		return smtp.Dial(m.Addr)
	}
	cfg := m.TLSConfig
	if cfg == nil {
		host, _, _ := net.SplitHostPort(m.Addr)
		cfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return smtp.DialStartTLS(m.Addr, cfg)
}

// compose builds the message and returns it with the bare envelope addresses.
func (m *Mailer) compose(subject string, lines []string) (string, []string, []byte, error) {
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return "", nil, nil, fmt.Errorf("invalid sender %q: %w", m.From, err)
	}

	to := make([]string, 0, len(m.To))
	envelope := make([]string, 0, len(m.To))
	for _, rcpt := range m.To {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			return "", nil, nil, fmt.Errorf("invalid recipient %q: %w", rcpt, err)
		}
		to = append(to, addr.String())
		envelope = append(envelope, addr.Address)
	}

	clk := m.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	domain := "localhost"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}

	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", from.String())
	header("To", strings.Join(to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", clk.Now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	for _, line := range lines {
		// Bare CR or LF inside a line would break the SMTP framing.
		line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return from.Address, envelope, b.Bytes(), nil
}
