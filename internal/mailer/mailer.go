package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Mutter0815/DripMailer/internal/apperr"
	"github.com/Mutter0815/DripMailer/internal/model"
	"github.com/Mutter0815/DripMailer/pkg/config"
)

type Message struct {
	FromName string
	From     string
	To       string
	Subject  string
	HTML     string
}

// Transport is one send-capable handle bound to a single account.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

const sendTimeout = 30 * time.Second

type smtpTransport struct {
	addr     string
	host     string
	implicit bool // TLS from byte one (465) instead of STARTTLS
	auth     smtp.Auth
}

func NewSMTP(host string, port int, user, pass string, implicitTLS bool) Transport {
	return &smtpTransport{
		addr:     fmt.Sprintf("%s:%d", host, port),
		host:     host,
		implicit: implicitTLS,
		auth:     smtp.PlainAuth("", user, pass, host),
	}
}

func FromAccount(a model.SMTPAccount) Transport {
	return NewSMTP(a.Host, a.Port, a.AuthUser, a.AuthPass, a.Secure)
}

func FromConfig(c config.SMTPConfig) Transport {
	return NewSMTP(c.Host, c.Port, c.User, c.Pass, c.Port == 465)
}

// Send must resolve rather than hang: the SMTP dialog runs under a
// deadline and any outcome past it is reported as a TransportError.
func (t *smtpTransport) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.send(msg) }()

	select {
	case <-ctx.Done():
		return apperr.Transport(ctx.Err())
	case err := <-done:
		if err != nil {
			return apperr.Transport(err)
		}
		return nil
	}
}

func (t *smtpTransport) send(msg Message) error {
	body := buildMIME(msg)
	if !t.implicit {
		return smtp.SendMail(t.addr, t.auth, msg.From, []string{msg.To}, body)
	}

	conn, err := tls.Dial("tcp", t.addr, &tls.Config{ServerName: t.host})
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Auth(t.auth); err != nil {
		return err
	}
	if err := c.Mail(msg.From); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMIME(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %q <%s>\r\n", msg.FromName, msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return []byte(b.String())
}
