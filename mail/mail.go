// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

var ErrMalformedMessage = errors.New("malformed message")

// readHeader parses a bare header block as returned by BODY.PEEK[HEADER].
func readHeader(rawHeader []byte) (mail.Header, error) {
	if len(bytes.TrimSpace(rawHeader)) == 0 {
		return mail.Header{}, fmt.Errorf("empty header block: %w", ErrMalformedMessage)
	}

	if !bytes.HasSuffix(rawHeader, []byte("\n\n")) && !bytes.HasSuffix(rawHeader, []byte("\r\n\r\n")) {
		rawHeader = append(append([]byte{}, rawHeader...), '\r', '\n')
	}

	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(rawHeader)))
	if err != nil {
		return mail.Header{}, fmt.Errorf("could not read header: %v: %w", err, ErrMalformedMessage)
	}

	return mail.Header{Header: message.Header{Header: h}}, nil
}

// readMessage opens a full RFC 822 message. Unknown charsets are not fatal.
func readMessage(rawMail []byte) (*mail.Reader, error) {
	mr, err := mail.CreateReader(bytes.NewReader(rawMail))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("could not parse mail: %v: %w", err, ErrMalformedMessage)
	}
	return mr, nil
}

// UnwrapSpamassassinReport returns the original mail when rawMail is a
// SpamAssassin style report wrapping it, and rawMail unchanged otherwise.
func UnwrapSpamassassinReport(rawMail []byte) ([]byte, error) {
	entity, err := message.Read(bytes.NewReader(rawMail))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("could not parse mail: %w", err)
	}

	mediaType, _, err := entity.Header.ContentType()
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return rawMail, nil
	}

	saHeaders := 0
	fields := entity.Header.Fields()
	for fields.Next() {
		if strings.HasPrefix(strings.ToLower(fields.Key()), "x-spam-") {
			saHeaders++
		}
	}
	if saHeaders < 2 {
		return rawMail, nil
	}

	mr := entity.MultipartReader()
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return rawMail, nil
		}
		if err != nil {
			return nil, fmt.Errorf("unexpected error while unwrapping: %w", err)
		}

		if strings.Contains(p.Header.Get("Content-Type"), "x-spam-type=original") {
			unwrapped, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("unexpected error while reading wrapped body: %w", err)
			}

			return unwrapped, nil
		}
	}
}

func ShortSubject(subject string) string {
	runes := []rune(subject)
	if len(runes) > 30 {
		subject = string(runes[:30]) + "..."
	}
	return subject
}
