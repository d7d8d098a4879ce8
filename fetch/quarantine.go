// SPDX-License-Identifier: GPL-3.0-or-later
package fetch

import (
	"sync"
)

type quarantineKey struct {
	mailbox string
	uid     uint32
}

// Quarantine remembers messages that failed to fetch or render so they are
// never requested again while the process runs.
type Quarantine struct {
	mu   sync.Mutex
	uids map[quarantineKey]struct{}
}

func NewQuarantine() *Quarantine {
	return &Quarantine{uids: map[quarantineKey]struct{}{}}
}

func (q *Quarantine) Add(mailbox string, uid uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.uids[quarantineKey{mailbox, uid}] = struct{}{}
}

func (q *Quarantine) Contains(mailbox string, uid uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.uids[quarantineKey{mailbox, uid}]
	return ok
}

func (q *Quarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.uids)
}
