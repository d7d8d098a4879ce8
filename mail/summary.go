// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

const (
	dateLayout         = "01/02/06 03:04pm"
	counterpartWidth   = 30
	subjectWidth       = 70
	undatedPlaceholder = "--/--/-- --:----"
)

// Summary renders one message as a single line: uid, date, counterpart,
// subject and flags. The counterpart is the first To address when
// counterpartTo is set (sent mail) and the first From address otherwise.
func Summary(uid uint32, flags []string, rawHeader []byte, counterpartTo bool) (string, error) {
	h, err := readHeader(rawHeader)
	if err != nil {
		return "", fmt.Errorf("could not render summary for %d: %w", uid, err)
	}

	date := undatedPlaceholder
	if t, err := h.Date(); err == nil && !t.IsZero() {
		date = t.Local().Format(dateLayout)
	}

	key := "From"
	if counterpartTo {
		key = "To"
	}
	counterpart := firstAddress(h, key)

	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	line := fmt.Sprintf(
		"%d %s %s %s %s",
		uid,
		date,
		col(counterpart, counterpartWidth),
		col(subject, subjectWidth),
		FormatFlags(flags),
	)
	return strings.TrimRight(line, " "), nil
}

// FormatFlags strips the system flag backslash and joins with commas.
func FormatFlags(flags []string) string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		names = append(names, strings.TrimPrefix(f, "\\"))
	}
	return strings.Join(names, ",")
}

func firstAddress(h mail.Header, key string) string {
	addresses, err := h.AddressList(key)
	if err != nil || len(addresses) == 0 {
		return strings.TrimSpace(h.Get(key))
	}
	return formatAddress(addresses[0])
}

func formatAddress(a *mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// col cuts or pads s to exactly width runes.
func col(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > width {
		return string(runes[:width])
	}
	return s + strings.Repeat(" ", width-len(runes))
}
