// SPDX-License-Identifier: GPL-3.0-or-later
package delivery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"
	mailutil "github.com/CrawX/go-imap-lookupd/mail"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Payload is a message as written by the user: YAML headers, a blank line
// and the plain text body.
type Payload struct {
	mailutil.Headers
	Body string
}

// ParsePayload splits text at the first blank line and reads the headers
// before it as YAML.
func ParsePayload(text string) (*Payload, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	rawHeaders, body, _ := strings.Cut(text, "\n\n")

	payload := &Payload{Body: body}
	err := yaml.Unmarshal([]byte(rawHeaders), &payload.Headers)
	if err != nil {
		return nil, fmt.Errorf("%w: could not read headers: %v", ErrMalformedPayload, err)
	}

	if strings.TrimSpace(payload.To) == "" {
		return nil, fmt.Errorf("%w: no recipient in to", ErrMalformedPayload)
	}

	return payload, nil
}

// Compose renders p as a text/plain MIME message.
func Compose(p *Payload, date time.Time) (*domain.Envelope, error) {
	from, err := mail.ParseAddress(p.From)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid from %q: %v", ErrMalformedPayload, p.From, err)
	}
	to, err := mail.ParseAddressList(p.To)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid to %q: %v", ErrMalformedPayload, p.To, err)
	}
	var cc []*mail.Address
	if strings.TrimSpace(p.Cc) != "" {
		cc, err = mail.ParseAddressList(p.Cc)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid cc %q: %v", ErrMalformedPayload, p.Cc, err)
		}
	}

	header := mail.Header{}
	header.SetDate(date)
	header.SetAddressList("From", []*mail.Address{from})
	header.SetAddressList("To", to)
	if len(cc) > 0 {
		header.SetAddressList("Cc", cc)
	}
	header.SetSubject(p.Subject)
	err = header.GenerateMessageID()
	if err != nil {
		return nil, fmt.Errorf("could not generate message id: %w", err)
	}
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	header.Set("Content-Transfer-Encoding", "quoted-printable")

	buffer := &bytes.Buffer{}
	bodyWriter, err := mail.CreateSingleInlineWriter(buffer, header)
	if err != nil {
		return nil, fmt.Errorf("could not create mail writer: %w", err)
	}
	_, err = io.WriteString(bodyWriter, p.Body)
	if err != nil {
		return nil, fmt.Errorf("could not write body: %w", err)
	}
	err = bodyWriter.Close()
	if err != nil {
		return nil, fmt.Errorf("could not close mail writer: %w", err)
	}

	recipients := []string{}
	for _, a := range append(to, cc...) {
		recipients = append(recipients, a.Address)
	}

	return &domain.Envelope{
		From:       from.Address,
		Recipients: recipients,
		Body:       buffer.Bytes(),
	}, nil
}

type ConfigFunc func(s *Sender)

func Journal(j domain.Journal) ConfigFunc {
	return func(s *Sender) {
		s.journal = j
	}
}

func Logger(l *logrus.Logger) ConfigFunc {
	return func(s *Sender) {
		s.l = l
	}
}

// Sender turns user written payloads into submitted mail.
type Sender struct {
	deliverer domain.Deliverer
	journal   domain.Journal
	login     string

	now func() time.Time
	l   *logrus.Logger
}

func NewSender(deliverer domain.Deliverer, login string, configFunc ...ConfigFunc) *Sender {
	s := &Sender{
		deliverer: deliverer,
		login:     login,
		now:       time.Now,
		l:         log.Logger(log.LOG_DELIVERY),
	}
	for _, f := range configFunc {
		f(s)
	}
	return s
}

// Send parses, composes and submits text. The sender defaults to the login.
func (s *Sender) Send(text string) (string, error) {
	payload, err := ParsePayload(text)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.From) == "" {
		payload.From = s.login
	}

	baseLogger := s.l.WithFields(logrus.Fields{"to": payload.To, "cc": payload.Cc, "subject": mailutil.ShortSubject(payload.Subject)})
	baseLogger.Info("Delivering")

	envelope, err := Compose(payload, s.now())
	if err != nil {
		return "", err
	}

	err = s.deliverer.Deliver(envelope)
	s.record(payload, err)
	if err != nil {
		baseLogger.WithField("error", err).Error("Delivery failed")
		return "", fmt.Errorf("could not deliver: %w", err)
	}

	baseLogger.Debug("Delivered")
	return "SENT", nil
}

func (s *Sender) record(payload *Payload, deliveryErr error) {
	if s.journal == nil {
		return
	}

	d := domain.Delivery{
		From:      payload.From,
		To:        payload.To,
		Subject:   payload.Subject,
		Status:    domain.DeliverySent,
		CreatedAt: s.now(),
	}
	if deliveryErr != nil {
		d.Status = domain.DeliveryFailed
		d.Error = deliveryErr.Error()
	}

	err := s.journal.SaveDelivery(d)
	if err != nil {
		s.l.WithField("error", err).Warn("Could not journal delivery")
	}
}
