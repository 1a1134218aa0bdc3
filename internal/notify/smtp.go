package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/log2"
)

const DefaultSmtpTimeout = 30 * time.Second

type SmtpOptions struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
	// TLSConfig for STARTTLS, nil = system roots, ServerName from Addr.
	TLSConfig *tls.Config
	Timeout   time.Duration
	Log       *log2.Log
}

type Smtp struct {
	opt SmtpOptions
}

func NewSmtp(opt SmtpOptions) (*Smtp, error) {
	if opt.Addr == "" {
		return nil, errors.NotValidf("smtp addr empty")
	}
	if opt.From == "" {
		return nil, errors.NotValidf("smtp from empty")
	}
	if opt.Timeout == 0 {
		opt.Timeout = DefaultSmtpTimeout
	}
	return &Smtp{opt: opt}, nil
}

func (s *Smtp) Notify(ctx context.Context, m *Message) error {
	if len(m.Recipients) == 0 {
		return nil
	}
	if err := s.send(ctx, m); err != nil {
		return &Failure{Via: "smtp", Err: err}
	}
	s.opt.Log.Infof("smtp sent id=%s recipients=%s", m.ID, strings.Join(m.Recipients, ","))
	return nil
}

func (s *Smtp) send(ctx context.Context, m *Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.opt.Timeout)
	defer cancel()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", s.opt.Addr)
	if err != nil {
		return errors.Annotate(err, "dial")
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, _, _ := net.SplitHostPort(s.opt.Addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return errors.Annotate(err, "greeting")
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		tc := &tls.Config{}
		if s.opt.TLSConfig != nil {
			tc = s.opt.TLSConfig.Clone()
		}
		if tc.ServerName == "" {
			tc.ServerName = host
		}
		if err = c.StartTLS(tc); err != nil {
			return errors.Annotate(err, "STARTTLS")
		}
	}
	// net/smtp refuses PLAIN without TLS except on localhost
	if s.opt.Username != "" {
		auth := smtp.PlainAuth("", s.opt.Username, s.opt.Password, host)
		if err = c.Auth(auth); err != nil {
			return errors.Annotate(err, "auth")
		}
	}
	if err = c.Mail(s.opt.From); err != nil {
		return errors.Annotate(err, "MAIL FROM")
	}
	for _, rcpt := range m.Recipients {
		if err = c.Rcpt(rcpt); err != nil {
			return errors.Annotatef(err, "RCPT TO=%s", rcpt)
		}
	}
	w, err := c.Data()
	if err != nil {
		return errors.Annotate(err, "DATA")
	}
	if _, err = w.Write(FormatMail(s.opt.From, m)); err != nil {
		return errors.Annotate(err, "DATA write")
	}
	if err = w.Close(); err != nil {
		return errors.Annotate(err, "DATA close")
	}
	return c.Quit()
}

// FormatMail renders RFC 5322 message with CRLF line endings.
func FormatMail(from string, m *Message) []byte {
	var b bytes.Buffer
	t := m.Time
	if t.IsZero() {
		t = time.Now()
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", t.Format(time.RFC1123Z))
	if m.ID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s@thermolink>\r\n", m.ID)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.Replace(m.Body, "\n", "\r\n", -1))
	b.WriteString("\r\n")
	return b.Bytes()
}
