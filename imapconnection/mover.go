// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"fmt"

	"github.com/emersion/go-imap"
)

type moveMover struct {
	moveClient moveClient
}

func (m *moveMover) move(uids []uint32, dest string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)
	return m.moveClient.UidMove(seqset, dest)
}

// copyFlagMover copies to dest and flags the originals \Deleted without
// expunging them. On Gmail this drops the source label.
type copyFlagMover struct {
	imapConn copyFlagClient
}

func (c *copyFlagMover) move(uids []uint32, dest string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	err := c.imapConn.UidCopy(seqset, dest)
	if err != nil {
		return fmt.Errorf("could not copy mails: %w", err)
	}

	err = c.imapConn.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil)
	if err != nil {
		return fmt.Errorf("could not set delete flag on copied mails: %w", err)
	}

	return nil
}
