// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap"
)

var ErrForeignDeletedMails = errors.New("folder has other items with delete flag set")

type uidPlusExpunger struct {
	uidplusClient uidExpunger
}

func (u *uidPlusExpunger) expunge(uids []uint32) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	out := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- u.uidplusClient.UidExpunge(seqset, out)
	}()

	expunged := []uint32{}
	for seq := range out {
		expunged = append(expunged, seq)
	}

	err := <-done
	if err != nil {
		return fmt.Errorf("could not expunge mails: %w", err)
	}

	if len(expunged) != len(uids) {
		return fmt.Errorf("unexpected number of expunges, expected %d got %d", len(uids), len(expunged))
	}

	return nil
}

// guardedExpunger runs a plain EXPUNGE, which removes every \Deleted mail in
// the folder. It refuses when that would sweep mails other than uids.
type guardedExpunger struct {
	imapConn deletedSearcherAndExpunger
}

func (g *guardedExpunger) expunge(uids []uint32) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.DeletedFlag}
	flagged, err := g.imapConn.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("could not search for deleted in folder: %w", err)
	}

	requested := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		requested[uid] = true
	}
	for _, uid := range flagged {
		if !requested[uid] {
			return fmt.Errorf("folder is not ready for expunge: %w", ErrForeignDeletedMails)
		}
	}

	out := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- g.imapConn.Expunge(out)
	}()

	for range out {
	}

	err = <-done
	if err != nil {
		return fmt.Errorf("could not expunge mails: %w", err)
	}

	return nil
}
