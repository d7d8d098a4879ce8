// SPDX-License-Identifier: GPL-3.0-or-later
package delivery

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"time"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"

	"github.com/sirupsen/logrus"
)

const SmtpTimeout = 30 * time.Second

// SMTP submits envelopes to a submission server, upgrading to TLS with
// STARTTLS before authenticating.
type SMTP struct {
	addr     string
	host     string
	user     string
	password string

	l *logrus.Logger
}

var _ domain.Deliverer = (*SMTP)(nil)

func NewSMTP(addr, user, password string) (*SMTP, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("could not parse smtp address %q: %w", addr, err)
	}

	return &SMTP{
		addr:     addr,
		host:     host,
		user:     user,
		password: password,
		l:        log.Logger(log.LOG_DELIVERY),
	}, nil
}

func (s *SMTP) Deliver(e *domain.Envelope) error {
	conn, err := net.DialTimeout("tcp", s.addr, SmtpTimeout)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", s.addr, err)
	}
	err = conn.SetDeadline(time.Now().Add(SmtpTimeout))
	if err != nil {
		conn.Close()
		return fmt.Errorf("could not set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("could not create smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); !ok {
		return fmt.Errorf("%s does not support STARTTLS", s.addr)
	}
	err = client.StartTLS(&tls.Config{ServerName: s.host})
	if err != nil {
		return fmt.Errorf("could not start tls: %w", err)
	}

	err = client.Auth(smtp.PlainAuth("", s.user, s.password, s.host))
	if err != nil {
		return fmt.Errorf("could not authenticate: %w", err)
	}

	err = client.Mail(e.From)
	if err != nil {
		return fmt.Errorf("could not set sender: %w", err)
	}
	for _, rcpt := range e.Recipients {
		err = client.Rcpt(rcpt)
		if err != nil {
			return fmt.Errorf("could not add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("could not start data: %w", err)
	}
	_, err = io.Copy(w, bytes.NewReader(e.Body))
	if err != nil {
		w.Close()
		return fmt.Errorf("could not write message: %w", err)
	}
	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not finish data: %w", err)
	}

	s.l.WithFields(logrus.Fields{"recipients": e.Recipients, "bytes": len(e.Body)}).Debug("Submitted")

	err = client.Quit()
	if err != nil {
		s.l.WithField("error", err).Warn("Could not quit smtp session")
	}
	return nil
}
