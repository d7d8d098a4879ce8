// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"github.com/emersion/go-imap"
	"github.com/emersion/go-sasl"
)

//go:generate mockgen -destination=mocks/imap.go -package=mocks . ImapClient

// ImapClient is the slice of an authenticated IMAP connection the session
// engine works against. imapconnection.Connection is the production
// implementation.
type ImapClient interface {
	Login(username, password string) error
	SupportAuth(mech string) (bool, error)
	Authenticate(auth sasl.Client) error

	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error

	// MoveUids moves uids to dest, either via MOVE or via copy and \Deleted.
	MoveUids(uids []uint32, dest string) error
	// ExpungeUids permanently removes uids already flagged \Deleted.
	ExpungeUids(uids []uint32) error

	Close() error
	Logout() error
	Terminate() error
}

// Negotiator is implemented by connections that query server extensions
// once authenticated.
type Negotiator interface {
	Negotiate() error
}
