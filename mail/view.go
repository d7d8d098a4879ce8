// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"gopkg.in/yaml.v2"
)

// Headers is the YAML header block shown to and edited by the user.
type Headers struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Cc      string `yaml:"cc,omitempty"`
	ReplyTo string `yaml:"reply_to,omitempty"`
	Date    string `yaml:"date,omitempty"`
	Subject string `yaml:"subject"`
}

type part struct {
	contentType string
	filename    string
	size        int
}

type parsedMail struct {
	headers Headers
	parts   []part
	body    string
}

var (
	quotedLine   = regexp.MustCompile(`(?m)^>`)
	unquotedLine = regexp.MustCompile(`(?m)^([^>]|$)`)
	replyPrefix  = regexp.MustCompile(`(?i)^re:\s`)
)

func parse(rawMail []byte) (*parsedMail, error) {
	mr, err := readMessage(rawMail)
	if err != nil {
		return nil, err
	}

	parsed := &parsedMail{headers: extractHeaders(mr.Header)}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not read part: %v: %w", err, ErrMalformedMessage)
		}

		content, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("could not read part body: %v: %w", err, ErrMalformedMessage)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			parsed.parts = append(parsed.parts, part{contentType: contentType, size: len(content)})
			switch {
			case contentType == "text/plain" && plain == "":
				plain = string(content)
			case contentType == "text/html" && html == "":
				html = string(content)
			}
		case *mail.AttachmentHeader:
			contentType, _, _ := h.ContentType()
			filename, _ := h.Filename()
			parsed.parts = append(parsed.parts, part{contentType: contentType, filename: filename, size: len(content)})
		}
	}

	parsed.body = plain
	if parsed.body == "" {
		parsed.body = html
	}
	parsed.body = strings.ReplaceAll(parsed.body, "\r\n", "\n")

	return parsed, nil
}

func extractHeaders(h mail.Header) Headers {
	headers := Headers{
		From:    addressList(h, "From"),
		To:      addressList(h, "To"),
		Cc:      addressList(h, "Cc"),
		ReplyTo: addressList(h, "Reply-To"),
	}

	if t, err := h.Date(); err == nil && !t.IsZero() {
		headers.Date = t.Format("Mon, Jan 2, 2006 at 3:04 PM")
	}

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	headers.Subject = subject

	return headers
}

func addressList(h mail.Header, key string) string {
	addresses, err := h.AddressList(key)
	if err != nil {
		return strings.TrimSpace(h.Get(key))
	}

	formatted := make([]string, 0, len(addresses))
	for _, a := range addresses {
		formatted = append(formatted, formatAddress(a))
	}
	return strings.Join(formatted, ", ")
}

func (p *parsedMail) listParts() string {
	lines := make([]string, 0, len(p.parts))
	for i, pt := range p.parts {
		line := fmt.Sprintf("%d. %s (%d bytes)", i+1, pt.contentType, pt.size)
		if pt.filename != "" {
			line = fmt.Sprintf("%d. %s %s (%d bytes)", i+1, pt.contentType, pt.filename, pt.size)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// View formats a full message as YAML headers, a part listing and the text
// body, preferring text/plain over text/html.
func View(rawMail []byte) (string, error) {
	parsed, err := parse(rawMail)
	if err != nil {
		return "", err
	}

	headers, err := yaml.Marshal(parsed.headers)
	if err != nil {
		return "", fmt.Errorf("could not marshal headers: %w", err)
	}

	return fmt.Sprintf("%s\n%s\n\n-- body --\n\n%s\n", headers, parsed.listParts(), parsed.body), nil
}

// ReplyTemplate prefills a reply to rawMail sent as from: headers, a blank
// line and the quoted original body.
func ReplyTemplate(rawMail []byte, from string) (string, error) {
	parsed, err := parse(rawMail)
	if err != nil {
		return "", err
	}

	orig := parsed.headers
	to := orig.ReplyTo
	if to == "" {
		to = orig.From
	}
	subject := orig.Subject
	if !replyPrefix.MatchString(subject) {
		subject = "Re: " + subject
	}

	headers, err := yaml.Marshal(Headers{From: from, To: to, Cc: orig.Cc, Subject: subject})
	if err != nil {
		return "", fmt.Errorf("could not marshal headers: %w", err)
	}

	return fmt.Sprintf("%s\nOn %s, %s wrote:\n%s", headers, orig.Date, orig.From, quote(parsed.body)), nil
}

// MessageTemplate prefills a new message.
func MessageTemplate(from, to string) (string, error) {
	headers, err := yaml.Marshal(Headers{From: from, To: to})
	if err != nil {
		return "", fmt.Errorf("could not marshal headers: %w", err)
	}
	return string(headers) + "\n", nil
}

// quote prefixes already quoted lines with ">" and all others with "> ".
func quote(body string) string {
	body = strings.TrimRight(body, "\n")
	body = quotedLine.ReplaceAllString(body, ">>")
	return unquotedLine.ReplaceAllString(body, "> $1") + "\n"
}
