// SPDX-License-Identifier: GPL-3.0-or-later
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/mail"
	"github.com/CrawX/go-imap-lookupd/session"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency  = 16
	DefaultStagger      = 100 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrNoData is returned when a message stayed empty for MaxPolls fetches.
var ErrNoData = errors.New("server returned no data")

var (
	headerSection = &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	entireSection = &imap.BodySectionName{}

	summaryItems = []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchEnvelope, headerSection.FetchItem()}
	rawItems     = []imap.FetchItem{imap.FetchUid, entireSection.FetchItem()}
)

type ConfigFunc func(e *Engine)

func Concurrency(n int) ConfigFunc {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// Stagger is the minimum gap between two fetch launches. 0 disables pacing.
func Stagger(d time.Duration) ConfigFunc {
	return func(e *Engine) {
		e.stagger = d
	}
}

func PollInterval(d time.Duration) ConfigFunc {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// MaxPolls bounds the number of fetches for a message that keeps coming back
// empty. 0 polls until the context ends.
func MaxPolls(n int) ConfigFunc {
	return func(e *Engine) {
		e.maxPolls = n
	}
}

// SentMailbox switches the summary counterpart to the recipient for mailbox.
func SentMailbox(mailbox string) ConfigFunc {
	return func(e *Engine) {
		e.sentMailbox = mailbox
	}
}

func Logger(l *logrus.Logger) ConfigFunc {
	return func(e *Engine) {
		e.l = l
	}
}

type Engine struct {
	session    domain.Session
	quarantine *Quarantine

	concurrency  int
	stagger      time.Duration
	pollInterval time.Duration
	maxPolls     int
	sentMailbox  string

	l *logrus.Logger
}

func NewEngine(s domain.Session, q *Quarantine, configFunc ...ConfigFunc) *Engine {
	e := &Engine{
		session:      s,
		quarantine:   q,
		concurrency:  DefaultConcurrency,
		stagger:      DefaultStagger,
		pollInterval: DefaultPollInterval,
		l:            log.Logger(log.LOG_FETCH),
	}
	for _, f := range configFunc {
		f(e)
	}
	return e
}

func Placeholder(uid uint32) string {
	return fmt.Sprintf("cannot parse message %d", uid)
}

// Tail returns the last min(limit, len(uids)) uids.
func Tail(uids []uint32, limit int) []uint32 {
	if limit <= 0 {
		return []uint32{}
	}
	if limit > len(uids) {
		limit = len(uids)
	}
	return uids[len(uids)-limit:]
}

// Summaries renders one summary line per uid in the order of uids. A
// transport failure revives the session and re-runs the whole batch once.
func (e *Engine) Summaries(ctx context.Context, uids []uint32) ([]string, error) {
	start := time.Now()
	lines, err := e.summaries(ctx, uids)
	if err == nil {
		e.l.WithFields(logrus.Fields{"count": len(uids), "duration": time.Since(start)}).Debug("Fetched summaries")
		return lines, nil
	}
	if !session.IsTransport(err) {
		return nil, err
	}

	e.l.WithFields(logrus.Fields{"count": len(uids), "error": err}).Warn("Batch failed on transport, trying again")
	reviveErr := e.session.Revive()
	if reviveErr != nil {
		return nil, &session.RevivedError{Err: fmt.Errorf("could not revive after %v: %w", err, reviveErr)}
	}

	lines, err = e.summaries(ctx, uids)
	if err != nil {
		return nil, &session.RevivedError{Err: fmt.Errorf("batch failed again after revive: %w", err)}
	}

	e.l.WithFields(logrus.Fields{"count": len(uids), "duration": time.Since(start)}).Debug("Fetched summaries after revive")
	return lines, nil
}

func (e *Engine) summaries(ctx context.Context, uids []uint32) ([]string, error) {
	mailbox := e.session.Selected()
	counterpartTo := e.sentMailbox != "" && mailbox == e.sentMailbox

	lines := make([]string, len(uids))
	limiter := rate.NewLimiter(rate.Every(e.stagger), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	var launchErr error
	for i, uid := range uids {
		launchErr = limiter.Wait(gctx)
		if launchErr != nil {
			break
		}

		i, uid := i, uid
		g.Go(func() error {
			line, err := e.summary(gctx, mailbox, uid, counterpartTo)
			if err != nil {
				return err
			}
			lines[i] = line
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return nil, err
	}
	if launchErr != nil {
		return nil, &session.TransportError{Err: launchErr}
	}

	return lines, nil
}

func (e *Engine) summary(ctx context.Context, mailbox string, uid uint32, counterpartTo bool) (string, error) {
	baseLogger := e.l.WithFields(logrus.Fields{"mailbox": mailbox, "uid": uid})

	if e.quarantine.Contains(mailbox, uid) {
		baseLogger.Debug("Message is quarantined, skipping fetch")
		return Placeholder(uid), nil
	}

	msg, err := e.poll(ctx, uid, summaryItems)
	if errors.Is(err, ErrNoData) {
		baseLogger.WithField("error", err).Warn("Giving up on empty message")
		return Placeholder(uid), nil
	}
	if err != nil {
		if session.IsTransport(err) {
			return "", err
		}
		if !isParseFailure(err) {
			return "", fmt.Errorf("could not fetch message %d: %w", uid, err)
		}
		baseLogger.WithField("error", err).Warn("Could not parse message, quarantining")
		e.quarantine.Add(mailbox, uid)
		return Placeholder(uid), nil
	}

	header, err := readSection(msg, imap.HeaderSpecifier)
	if err == nil {
		var line string
		line, err = mail.Summary(uid, msg.Flags, header, counterpartTo)
		if err == nil {
			baseLogger.Debug("Got data for message")
			return line, nil
		}
	}

	baseLogger.WithField("error", err).Warn("Could not render message, quarantining")
	e.quarantine.Add(mailbox, uid)
	return Placeholder(uid), nil
}

// Quarantined reports whether uid of the selected mailbox is quarantined.
func (e *Engine) Quarantined(uid uint32) bool {
	return e.quarantine.Contains(e.session.Selected(), uid)
}

// Ping fetches a single message without rendering it. It is meant to be
// called with a deadline to detect a stale connection.
func (e *Engine) Ping(ctx context.Context, uid uint32) error {
	_, err := e.poll(ctx, uid, summaryItems)
	if err != nil {
		return fmt.Errorf("ping of %d failed: %w", uid, err)
	}
	return nil
}

// Raw returns the full RFC 822 message.
func (e *Engine) Raw(ctx context.Context, uid uint32) ([]byte, error) {
	msg, err := e.poll(ctx, uid, rawItems)
	if err != nil {
		return nil, fmt.Errorf("could not fetch message %d: %w", uid, err)
	}

	raw, err := readSection(msg, imap.EntireSpecifier)
	if err != nil {
		return nil, fmt.Errorf("could not read message %d: %w", uid, err)
	}
	return raw, nil
}

// poll fetches uid until the server returns data for it.
func (e *Engine) poll(ctx context.Context, uid uint32, items []imap.FetchItem) (*imap.Message, error) {
	for polls := 1; ; polls++ {
		msg, err := e.fetchOne(ctx, uid, items)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		if e.maxPolls > 0 && polls >= e.maxPolls {
			return nil, fmt.Errorf("message %d after %d polls: %w", uid, polls, ErrNoData)
		}

		e.l.WithFields(logrus.Fields{"uid": uid, "polls": polls}).Debug("No data yet, polling again")
		select {
		case <-ctx.Done():
			return nil, &session.TransportError{Err: ctx.Err()}
		case <-time.After(e.pollInterval):
		}
	}
}

func (e *Engine) fetchOne(ctx context.Context, uid uint32, items []imap.FetchItem) (*imap.Message, error) {
	var result *imap.Message
	err := e.session.Do(ctx, func(c domain.ImapClient) error {
		seqset := &imap.SeqSet{}
		seqset.AddNum(uid)

		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, messages)
		}()

		for msg := range messages {
			if result == nil && msg.Uid == uid {
				result = msg
			}
		}

		return <-done
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func readSection(msg *imap.Message, specifier imap.PartSpecifier) ([]byte, error) {
	for section, literal := range msg.Body {
		if section.Specifier != specifier || len(section.Path) > 0 || literal == nil {
			continue
		}

		raw, err := io.ReadAll(literal)
		if err != nil {
			return nil, fmt.Errorf("could not read mail body: %w", err)
		}
		return raw, nil
	}

	return nil, fmt.Errorf("section %q missing in response: %w", specifier, mail.ErrMalformedMessage)
}

// isParseFailure tells a message the server cannot deliver in readable form
// apart from a command the server refused, like a FETCH without a selected
// mailbox. Only the former is a property of the message.
func isParseFailure(err error) bool {
	if errors.Is(err, mail.ErrMalformedMessage) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if imap.IsParseError(e) {
			return true
		}
	}
	// the client reports response parse errors only as text
	return strings.Contains(strings.ToLower(err.Error()), "parse")
}
