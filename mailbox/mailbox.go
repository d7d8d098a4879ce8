// SPDX-License-Identifier: GPL-3.0-or-later
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CrawX/go-imap-lookupd/config"
	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/fetch"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/session"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLivenessTimeout = 9 * time.Second
	// updateLimit caps the summaries returned by a single Update.
	updateLimit = 1000
)

var (
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrNoUpdate        = errors.New("no update")
	ErrNoSearch        = errors.New("no search to update")
)

var listRefs = []string{"[Gmail]/", ""}

type ConfigFunc func(s *State)

func LivenessTimeout(d time.Duration) ConfigFunc {
	return func(s *State) {
		if d > 0 {
			s.livenessTimeout = d
		}
	}
}

func Logger(l *logrus.Logger) ConfigFunc {
	return func(s *State) {
		s.l = l
	}
}

type uidIndex struct {
	mailbox string
	query   string
	uids    []uint32
}

// State tracks the selected mailbox and the uids of the last search in it.
// It is not safe for concurrent use; callers serialize access.
type State struct {
	session domain.Session
	fetcher *fetch.Engine
	aliases config.Aliases

	livenessTimeout time.Duration

	mailboxes *string
	index     *uidIndex

	l *logrus.Logger
}

func NewState(s domain.Session, fetcher *fetch.Engine, aliases config.Aliases, configFunc ...ConfigFunc) *State {
	state := &State{
		session:      s,
		fetcher:      fetcher,
		aliases:      aliases,
		livenessTimeout: DefaultLivenessTimeout,
		l:            log.Logger(log.LOG_MAILBOX),
	}
	for _, f := range configFunc {
		f(state)
	}
	return state
}

// Select resolves name through the aliases and selects the result unless it
// is already selected. Selecting drops the uid index.
func (s *State) Select(ctx context.Context, name string) (string, error) {
	mailbox := s.aliases.Resolve(name)
	baseLogger := s.l.WithFields(logrus.Fields{"name": name, "mailbox": mailbox})

	if mailbox == s.session.Selected() {
		baseLogger.Debug("Mailbox already selected")
		return "OK", nil
	}

	baseLogger.Info("Selecting mailbox")
	err := s.session.Select(ctx, mailbox)
	if err != nil {
		if session.IsTransport(err) {
			return "", fmt.Errorf("could not select %s: %w", mailbox, err)
		}
		// the server dropped its selection along with the refused one
		s.index = nil
		return "", fmt.Errorf("%w: %s: %v", ErrMailboxNotFound, mailbox, err)
	}

	s.index = nil
	return "OK", nil
}

// List returns the selectable mailboxes, one per line. A successful result
// is kept for the lifetime of the process.
func (s *State) List(ctx context.Context) (string, error) {
	if s.mailboxes != nil {
		return *s.mailboxes, nil
	}

	names := []string{}
	for _, ref := range listRefs {
		found, err := s.list(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("could not list mailboxes in %q: %w", ref, err)
		}
		names = append(names, found...)
	}

	joined := strings.Join(names, "\n")
	s.mailboxes = &joined
	s.l.WithField("count", len(names)).Debug("Listed mailboxes")

	return joined, nil
}

func (s *State) list(ctx context.Context, ref string) ([]string, error) {
	var names []string
	err := s.session.Do(ctx, func(c domain.ImapClient) error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.List(ref, "%", mailboxes)
		}()

		for m := range mailboxes {
			if !selectable(m) {
				continue
			}
			names = append(names, m.Name)
		}

		return <-done
	})
	if err != nil {
		return nil, err
	}

	return names, nil
}

func selectable(m *imap.MailboxInfo) bool {
	for _, attr := range m.Attributes {
		if strings.EqualFold(attr, imap.NoSelectAttr) {
			return false
		}
	}
	return true
}

// Search returns summaries for the last limit uids matching query. The uid
// list is searched again only when the query or the mailbox changed.
func (s *State) Search(ctx context.Context, limit int, query ...string) ([]string, error) {
	q := strings.TrimSpace(strings.Join(query, " "))
	if q == "" {
		q = "ALL"
	}
	mailbox := s.session.Selected()

	if s.index == nil || s.index.query != q || s.index.mailbox != mailbox {
		uids, err := s.search(ctx, q)
		if err != nil {
			return nil, err
		}
		s.index = &uidIndex{mailbox: mailbox, query: q, uids: uids}
		s.l.WithFields(logrus.Fields{"mailbox": mailbox, "query": q, "count": len(uids)}).Info("Searched mailbox")
	}

	return s.fetcher.Summaries(ctx, fetch.Tail(s.index.uids, limit))
}

func (s *State) search(ctx context.Context, query string) ([]uint32, error) {
	criteria, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	var uids []uint32
	err = s.session.Do(ctx, func(c domain.ImapClient) error {
		var err error
		uids, err = c.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not search %q: %w", query, err)
	}

	return uids, nil
}

// Update pings the connection, runs the cached search again and returns
// summaries for uids not seen before.
func (s *State) Update(ctx context.Context) ([]string, error) {
	if s.index == nil || s.index.mailbox != s.session.Selected() {
		return nil, ErrNoSearch
	}
	baseLogger := s.l.WithFields(logrus.Fields{"mailbox": s.index.mailbox, "query": s.index.query})

	revived := false
	if last, ok := s.lastFetchable(); ok {
		pingCtx, cancel := context.WithTimeout(ctx, s.livenessTimeout)
		err := s.fetcher.Ping(pingCtx, last)
		cancel()

		if session.IsTransport(err) {
			baseLogger.WithField("error", err).Warn("Ping failed, connection is stale")
			reviveErr := s.session.Revive()
			if reviveErr != nil {
				return nil, &session.RevivedError{Err: fmt.Errorf("could not revive after failed ping: %w", reviveErr)}
			}
			revived = true
		} else if err != nil {
			baseLogger.WithField("error", err).Debug("Ping failed, continuing")
		}
	}
	fail := func(err error) ([]string, error) {
		if revived && !session.AlreadyRevived(err) {
			err = &session.RevivedError{Err: err}
		}
		return nil, err
	}

	fresh, err := s.search(ctx, s.index.query)
	if err != nil {
		return fail(err)
	}

	known := make(map[uint32]struct{}, len(s.index.uids))
	for _, uid := range s.index.uids {
		known[uid] = struct{}{}
	}
	added := []uint32{}
	for _, uid := range fresh {
		if _, ok := known[uid]; !ok {
			added = append(added, uid)
		}
	}

	baseLogger.WithField("new", added).Debug("Update")
	if len(added) == 0 {
		return nil, ErrNoUpdate
	}

	lines, err := s.fetcher.Summaries(ctx, fetch.Tail(added, updateLimit))
	if err != nil {
		return fail(err)
	}

	s.index.uids = append(s.index.uids, added...)
	return lines, nil
}

// lastFetchable is the newest indexed uid that is not quarantined.
func (s *State) lastFetchable() (uint32, bool) {
	for i := len(s.index.uids) - 1; i >= 0; i-- {
		uid := s.index.uids[i]
		if !s.fetcher.Quarantined(uid) {
			return uid, true
		}
	}
	return 0, false
}

// Selected is the mailbox commands currently run against.
func (s *State) Selected() string {
	return s.session.Selected()
}

// Uids returns a copy of the current uid index.
func (s *State) Uids() []uint32 {
	if s.index == nil {
		return nil
	}
	return append([]uint32{}, s.index.uids...)
}
