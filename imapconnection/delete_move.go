// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import "github.com/emersion/go-imap"

//go:generate mockgen -destination=delete_move_mocks_test.go -package=imapconnection -source delete_move.go

// Consolidated file for the expunger and mover strategies plus the narrow client
// interfaces they depend on, so gomock can generate mocks in source mode.

type expunger interface {
	expunge(uids []uint32) error
}

type mover interface {
	move(uids []uint32, dest string) error
}

type uidExpunger interface {
	UidExpunge(seqSet *imap.SeqSet, ch chan uint32) error
}

type deletedSearcherAndExpunger interface {
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	Expunge(ch chan uint32) error
}

type moveClient interface {
	UidMove(seqset *imap.SeqSet, dest string) error
}

type copyFlagClient interface {
	UidCopy(seqset *imap.SeqSet, dest string) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
}
