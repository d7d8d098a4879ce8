// SPDX-License-Identifier: GPL-3.0-or-later
package flagging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/fetch"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/session"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
)

const (
	DeletedFlag = "Deleted"
	SpamFlag    = "Spam"

	DefaultTrashMailbox = "[Gmail]/Trash"
	DefaultSpamMailbox  = "[Gmail]/Spam"
)

var (
	ErrInvalidUidSet = errors.New("invalid uid set")
	ErrInvalidAction = errors.New("invalid flag action")
)

var systemFlags = map[string]string{
	"Seen":     imap.SeenFlag,
	"Answered": imap.AnsweredFlag,
	"Flagged":  imap.FlaggedFlag,
	"Deleted":  imap.DeletedFlag,
	"Draft":    imap.DraftFlag,
}

type ConfigFunc func(e *Engine)

func TrashMailbox(mailbox string) ConfigFunc {
	return func(e *Engine) {
		e.trashMailbox = mailbox
	}
}

func SpamMailbox(mailbox string) ConfigFunc {
	return func(e *Engine) {
		e.spamMailbox = mailbox
	}
}

// ExpungeDeleted removes deleted mails from the source mailbox right after
// they were copied to the trash.
func ExpungeDeleted() ConfigFunc {
	return func(e *Engine) {
		e.expunge = true
	}
}

func Journal(j domain.Journal) ConfigFunc {
	return func(e *Engine) {
		e.journal = j
	}
}

// Reporter is told about every mail marked as spam.
func Reporter(r domain.SpamReporter) ConfigFunc {
	return func(e *Engine) {
		e.reporter = r
	}
}

func Logger(l *logrus.Logger) ConfigFunc {
	return func(e *Engine) {
		e.l = l
	}
}

type Engine struct {
	session  domain.Session
	fetcher  *fetch.Engine
	journal  domain.Journal
	reporter domain.SpamReporter

	trashMailbox string
	spamMailbox  string
	expunge      bool

	pending sync.WaitGroup

	l *logrus.Logger
}

func NewEngine(s domain.Session, fetcher *fetch.Engine, configFunc ...ConfigFunc) *Engine {
	e := &Engine{
		session:      s,
		fetcher:      fetcher,
		trashMailbox: DefaultTrashMailbox,
		spamMailbox:  DefaultSpamMailbox,
		l:            log.Logger(log.LOG_FLAG),
	}
	for _, f := range configFunc {
		f(e)
	}
	return e
}

// ParseUidSet parses a comma separated list of positive uids.
func ParseUidSet(uidSet string) ([]uint32, error) {
	parts := strings.Split(uidSet, ",")
	uids := make([]uint32, 0, len(parts))
	for _, p := range parts {
		uid, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil || uid == 0 {
			return nil, fmt.Errorf("%w %q", ErrInvalidUidSet, uidSet)
		}
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func parseAction(action string) (imap.FlagsOp, error) {
	switch action {
	case "+":
		return imap.AddFlags, nil
	case "-":
		return imap.RemoveFlags, nil
	default:
		return "", fmt.Errorf("%w %q, expected + or -", ErrInvalidAction, action)
	}
}

// Flag sets (+) or clears (-) flag on the uids in uidSet.
//
// Deleted copies the mails to the trash in the background and returns at
// once. Spam, or the spam mailbox name, reports the mails and moves them to
// the spam mailbox. Any other flag is stored directly and the fresh
// summaries of the mails are returned.
func (e *Engine) Flag(ctx context.Context, uidSet, action, flag string) (string, error) {
	uids, err := ParseUidSet(uidSet)
	if err != nil {
		return "", err
	}
	op, err := parseAction(action)
	if err != nil {
		return "", err
	}

	mailbox := e.session.Selected()
	baseLogger := e.l.WithFields(logrus.Fields{"mailbox": mailbox, "uids": uids, "action": action, "flag": flag})
	baseLogger.Info("Flagging")

	switch {
	case flag == DeletedFlag:
		e.record(mailbox, uids, action, flag)
		e.deleteDetached(uids, op)
		return fmt.Sprintf("%s deleted", formatUids(uids)), nil

	case flag == SpamFlag || flag == e.spamMailbox:
		if op != imap.AddFlags {
			return "", fmt.Errorf("%w %q for spam, only + is supported", ErrInvalidAction, action)
		}
		err = e.markSpam(ctx, uids)
		if err != nil {
			return "", err
		}
		e.record(mailbox, uids, action, SpamFlag)
		return fmt.Sprintf("%s marked as spam", formatUids(uids)), nil
	}

	err = e.store(ctx, uids, op, imapFlag(flag))
	if err != nil {
		return "", fmt.Errorf("could not store %s%s: %w", action, flag, err)
	}
	e.record(mailbox, uids, action, flag)

	lines, err := e.fetcher.Summaries(ctx, uids)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// Wait blocks until all background deletions finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) store(ctx context.Context, uids []uint32, op imap.FlagsOp, flag string) error {
	return e.session.Do(ctx, func(c domain.ImapClient) error {
		seqset := &imap.SeqSet{}
		seqset.AddNum(uids...)
		return c.UidStore(seqset, imap.FormatFlagsOp(op, true), []interface{}{flag}, nil)
	})
}

func (e *Engine) deleteDetached(uids []uint32, op imap.FlagsOp) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		baseLogger := e.l.WithFields(logrus.Fields{"uids": uids, "trash": e.trashMailbox})
		err := e.delete(context.Background(), uids, op)
		if err == nil {
			baseLogger.Info("Deleted mails")
			return
		}

		baseLogger.WithField("error", err).Error("Could not delete mails")
		if session.IsTransport(err) {
			reviveErr := e.session.Revive()
			if reviveErr != nil {
				baseLogger.WithField("error", reviveErr).Error("Could not revive after failed delete")
			}
		}
	}()
}

func (e *Engine) delete(ctx context.Context, uids []uint32, op imap.FlagsOp) error {
	return e.session.Do(ctx, func(c domain.ImapClient) error {
		seqset := &imap.SeqSet{}
		seqset.AddNum(uids...)

		if op == imap.AddFlags {
			err := c.UidCopy(seqset, e.trashMailbox)
			if err != nil {
				return fmt.Errorf("could not copy mails to %s: %w", e.trashMailbox, err)
			}
		}

		err := c.UidStore(seqset, imap.FormatFlagsOp(op, true), []interface{}{imap.DeletedFlag}, nil)
		if err != nil {
			return fmt.Errorf("could not store delete flag: %w", err)
		}

		if e.expunge && op == imap.AddFlags {
			err = c.ExpungeUids(uids)
			if err != nil {
				return fmt.Errorf("could not expunge mails: %w", err)
			}
		}

		return nil
	})
}

func (e *Engine) markSpam(ctx context.Context, uids []uint32) error {
	if e.reporter != nil {
		for _, uid := range uids {
			e.report(ctx, uid)
		}
	}

	err := e.session.Do(ctx, func(c domain.ImapClient) error {
		return c.MoveUids(uids, e.spamMailbox)
	})
	if err != nil {
		return fmt.Errorf("could not move mails to %s: %w", e.spamMailbox, err)
	}

	return nil
}

func (e *Engine) report(ctx context.Context, uid uint32) {
	baseLogger := e.l.WithField("uid", uid)

	raw, err := e.fetcher.Raw(ctx, uid)
	if err != nil {
		baseLogger.WithField("error", err).Warn("Could not fetch mail for spam learning")
		return
	}

	err = e.reporter.Learn(domain.LearnSpam, raw)
	if err != nil {
		baseLogger.WithField("error", err).Warn("Could not learn spam")
		return
	}
	baseLogger.Debug("Learned spam")
}

func (e *Engine) record(mailbox string, uids []uint32, action, flag string) {
	if e.journal == nil {
		return
	}

	err := e.journal.SaveFlagOperation(domain.FlagRecord{Mailbox: mailbox, Uids: uids, Action: action, Flag: flag})
	if err != nil {
		e.l.WithField("error", err).Warn("Could not journal flag operation")
	}
}

func imapFlag(flag string) string {
	if f, ok := systemFlags[flag]; ok {
		return f
	}
	return flag
}

func formatUids(uids []uint32) string {
	s := make([]string, 0, len(uids))
	for _, uid := range uids {
		s = append(s, strconv.FormatUint(uint64(uid), 10))
	}
	return strings.Join(s, ",")
}
