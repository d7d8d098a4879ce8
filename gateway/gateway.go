// SPDX-License-Identifier: GPL-3.0-or-later
package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/CrawX/go-imap-lookupd/delivery"
	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/fetch"
	"github.com/CrawX/go-imap-lookupd/flagging"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/mail"
	"github.com/CrawX/go-imap-lookupd/mailbox"
	"github.com/CrawX/go-imap-lookupd/session"

	"github.com/emersion/go-imap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const outboxDateLayout = "2006-01-02 15:04"

// Lifecycle is the part of the session the gateway drives directly.
type Lifecycle interface {
	Open() error
	Close()
	Revive() error
}

type ConfigFunc func(g *Gateway)

func Journal(j domain.Journal) ConfigFunc {
	return func(g *Gateway) {
		g.journal = j
	}
}

// DefaultRecipient is put into the to header of new message templates.
func DefaultRecipient(to string) ConfigFunc {
	return func(g *Gateway) {
		g.defaultRecipient = to
	}
}

func Logger(l *logrus.Logger) ConfigFunc {
	return func(g *Gateway) {
		g.l = l
	}
}

// Gateway is the single entry point of the remote caller. Calls are
// serialized and failures are returned as "error: ..." strings.
type Gateway struct {
	mu sync.Mutex

	session Lifecycle
	state   *mailbox.State
	fetcher *fetch.Engine
	flagger *flagging.Engine
	sender  *delivery.Sender
	journal domain.Journal

	login            string
	defaultRecipient string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	l *logrus.Logger
}

func New(
	s Lifecycle,
	state *mailbox.State,
	fetcher *fetch.Engine,
	flagger *flagging.Engine,
	sender *delivery.Sender,
	login string,
	configFunc ...ConfigFunc,
) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		session: s,
		state:   state,
		fetcher: fetcher,
		flagger: flagger,
		sender:  sender,
		login:   login,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		l:       log.Logger(log.LOG_GATEWAY),
	}
	for _, f := range configFunc {
		f(g)
	}
	return g
}

// Done is closed once Close went through.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

func (g *Gateway) call(method string, fields logrus.Fields, fn func(ctx context.Context) (string, error)) (out string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	opLogger := g.l.WithFields(logrus.Fields{"op": uuid.NewString(), "method": method}).WithFields(fields)
	opLogger.Debug("Call")

	if g.closed {
		opLogger.Warn("Call after close")
		return "error: gateway is closed"
	}

	// a panic must not take the daemon and its caller down
	defer func() {
		if r := recover(); r != nil {
			opLogger.WithFields(logrus.Fields{"panic": r, "stack": string(debug.Stack())}).Error("Call panicked")
			out = fmt.Sprintf("error: %v", r)
		}
	}()

	out, err := fn(g.ctx)
	if err != nil {
		return g.fail(opLogger, err)
	}

	opLogger.Debug("Call done")
	return out
}

func (g *Gateway) fail(opLogger *logrus.Entry, err error) string {
	opLogger.WithField("error", err).Error("Call failed")

	if session.IsTransport(err) && !session.AlreadyRevived(err) {
		reviveErr := g.session.Revive()
		if reviveErr != nil {
			opLogger.WithField("error", reviveErr).Error("Could not revive")
		} else {
			opLogger.Info("Revived")
		}
	}

	return "error: " + err.Error()
}

func (g *Gateway) Open() string {
	return g.call("Open", nil, func(ctx context.Context) (string, error) {
		err := g.session.Open()
		if err != nil {
			return "", err
		}
		return "OK", nil
	})
}

// Close ends the session, waits for background deletions and releases the
// journal. Calls after Close fail.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	g.l.Info("Closing")
	g.flagger.Wait()
	g.session.Close()
	g.cancel()
	defer close(g.done)

	if g.journal != nil {
		err := g.journal.Close()
		if err != nil {
			return fmt.Errorf("could not close journal: %w", err)
		}
	}

	return nil
}

// SelectMailbox switches mailboxes once pending deletions are through, as
// they address uids of the mailbox selected now.
func (g *Gateway) SelectMailbox(name string) string {
	return g.call("SelectMailbox", logrus.Fields{"name": name}, func(ctx context.Context) (string, error) {
		g.flagger.Wait()
		return g.state.Select(ctx, name)
	})
}

func (g *Gateway) ListMailboxes() string {
	return g.call("ListMailboxes", nil, func(ctx context.Context) (string, error) {
		return g.state.List(ctx)
	})
}

func (g *Gateway) Search(limit int, query ...string) string {
	return g.call("Search", logrus.Fields{"limit": limit, "query": query}, func(ctx context.Context) (string, error) {
		lines, err := g.state.Search(ctx, limit, query...)
		if err != nil {
			return "", err
		}
		return strings.Join(lines, "\n"), nil
	})
}

// Update returns the summaries of mails that arrived since the last search
// or update. noUpdate reports that nothing changed.
func (g *Gateway) Update() (out string, noUpdate bool) {
	out = g.call("Update", nil, func(ctx context.Context) (string, error) {
		lines, err := g.state.Update(ctx)
		if errors.Is(err, mailbox.ErrNoUpdate) {
			noUpdate = true
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return strings.Join(lines, "\n"), nil
	})
	return out, noUpdate
}

// Lookup returns the mail either as is or as a readable view.
func (g *Gateway) Lookup(uid uint32, raw bool) string {
	return g.call("Lookup", logrus.Fields{"uid": uid, "raw": raw}, func(ctx context.Context) (string, error) {
		rawMail, err := g.fetcher.Raw(ctx, uid)
		if err != nil {
			return "", err
		}
		if raw {
			return string(rawMail), nil
		}
		return mail.View(rawMail)
	})
}

func (g *Gateway) Flag(uidSet, action, flag string) string {
	return g.call("Flag", logrus.Fields{"uids": uidSet, "action": action, "flag": flag}, func(ctx context.Context) (string, error) {
		return g.flagger.Flag(ctx, uidSet, action, flag)
	})
}

func (g *Gateway) Deliver(text string) string {
	return g.call("Deliver", nil, func(ctx context.Context) (string, error) {
		return g.sender.Send(text)
	})
}

func (g *Gateway) MessageTemplate() string {
	return g.call("MessageTemplate", nil, func(ctx context.Context) (string, error) {
		return mail.MessageTemplate(g.login, g.defaultRecipient)
	})
}

func (g *Gateway) ReplyTemplate(uid uint32) string {
	return g.call("ReplyTemplate", logrus.Fields{"uid": uid}, func(ctx context.Context) (string, error) {
		rawMail, err := g.fetcher.Raw(ctx, uid)
		if err != nil {
			return "", err
		}
		return mail.ReplyTemplate(rawMail, g.login)
	})
}

// Outbox lists the most recent deliveries, newest first.
func (g *Gateway) Outbox(limit int) string {
	return g.call("Outbox", logrus.Fields{"limit": limit}, func(ctx context.Context) (string, error) {
		if g.journal == nil {
			return "", errors.New("no journal configured")
		}

		deliveries, err := g.journal.RecentDeliveries(limit)
		if err != nil {
			return "", fmt.Errorf("could not read deliveries: %w", err)
		}

		lines := make([]string, 0, len(deliveries))
		for _, d := range deliveries {
			line := fmt.Sprintf("%s %-6s %s %s", d.CreatedAt.Local().Format(outboxDateLayout), d.Status, d.To, d.Subject)
			if d.Error != "" {
				line += " (" + d.Error + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n"), nil
	})
}

// History lists the journaled flag operations on the selected mailbox,
// newest first.
func (g *Gateway) History(limit int) string {
	return g.call("History", logrus.Fields{"limit": limit}, func(ctx context.Context) (string, error) {
		if g.journal == nil {
			return "", errors.New("no journal configured")
		}

		records, err := g.journal.FlagOperations(g.state.Selected())
		if err != nil {
			return "", fmt.Errorf("could not read flag operations: %w", err)
		}
		if limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}

		lines := make([]string, 0, len(records))
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			seqset := &imap.SeqSet{}
			seqset.AddNum(r.Uids...)
			lines = append(lines, fmt.Sprintf("%s%s %s", r.Action, r.Flag, seqset.String()))
		}
		return strings.Join(lines, "\n"), nil
	})
}
