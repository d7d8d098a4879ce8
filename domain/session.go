// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

//go:generate mockgen -destination=mocks/session.go -package=mocks . Session

// Session is the single shared IMAP connection as seen by the engines.
type Session interface {
	Do(ctx context.Context, fn func(c ImapClient) error) error
	Select(ctx context.Context, mailbox string) error
	Selected() string
	Revive() error
}
