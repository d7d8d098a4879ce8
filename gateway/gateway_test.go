// SPDX-License-Identifier: GPL-3.0-or-later
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CrawX/go-imap-lookupd/config"
	"github.com/CrawX/go-imap-lookupd/delivery"
	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/domain/mocks"
	"github.com/CrawX/go-imap-lookupd/fetch"
	"github.com/CrawX/go-imap-lookupd/flagging"
	"github.com/CrawX/go-imap-lookupd/mail"
	"github.com/CrawX/go-imap-lookupd/mailbox"
	"github.com/CrawX/go-imap-lookupd/session"

	"github.com/emersion/go-imap"
	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v2"
)

func nullLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

type fakeLifecycle struct {
	mu      sync.Mutex
	opens   int
	closes  int
	revives int
	openErr error
}

func (f *fakeLifecycle) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return f.openErr
}

func (f *fakeLifecycle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeLifecycle) Revive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revives++
	return nil
}

type harness struct {
	conn      *mocks.MockImapClient
	session   *mocks.MockSession
	lifecycle *fakeLifecycle
	deliverer *mocks.MockDeliverer
	journal   *mocks.MockJournal
	gateway   *Gateway

	mu       sync.Mutex
	fetchErr error
}

func rawMail(uid uint32) string {
	return fmt.Sprintf("From: Bob <bob@example.com>\r\n"+
		"To: me@example.com\r\n"+
		"Date: Tue, 14 Apr 2020 09:30:00 +0000\r\n"+
		"Subject: message %d\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"body %d\r\n", uid, uid)
}

func newHarness(ctrl *gomock.Controller) *harness {
	h := &harness{
		conn:      mocks.NewMockImapClient(ctrl),
		lifecycle: &fakeLifecycle{},
		deliverer: mocks.NewMockDeliverer(ctrl),
		journal:   mocks.NewMockJournal(ctrl),
	}

	s := mocks.NewMockSession(ctrl)
	h.session = s
	s.EXPECT().Selected().Return("INBOX").AnyTimes()
	s.EXPECT().
		Do(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(domain.ImapClient) error) error {
			return fn(h.conn)
		}).
		AnyTimes()
	s.EXPECT().Revive().DoAndReturn(h.lifecycle.Revive).AnyTimes()

	h.conn.EXPECT().
		UidFetch(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
			defer close(ch)

			h.mu.Lock()
			fetchErr := h.fetchErr
			h.mu.Unlock()
			if fetchErr != nil {
				return fetchErr
			}

			uid := seqset.Set[0].Start
			raw := rawMail(uid)
			ch <- &imap.Message{
				Uid: uid,
				Body: map[*imap.BodySectionName]imap.Literal{
					{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier}}: bytes.NewBufferString(raw[:strings.Index(raw, "\r\n\r\n")+4]),
					{}: bytes.NewBufferString(raw),
				},
			}
			return nil
		}).
		AnyTimes()

	fetcher := fetch.NewEngine(s, fetch.NewQuarantine(), fetch.Stagger(0), fetch.Logger(nullLogger()))
	state := mailbox.NewState(s, fetcher, config.DefaultAliases(), mailbox.Logger(nullLogger()))
	flagger := flagging.NewEngine(s, fetcher, flagging.Logger(nullLogger()))
	sender := delivery.NewSender(h.deliverer, "me@example.com", delivery.Journal(h.journal), delivery.Logger(nullLogger()))

	h.gateway = New(
		h.lifecycle, state, fetcher, flagger, sender, "me@example.com",
		Journal(h.journal), DefaultRecipient("friend@example.com"), Logger(nullLogger()),
	)
	return h
}

func headersOf(t *testing.T, text string) mail.Headers {
	headers := mail.Headers{}
	assert.NoError(t, yaml.Unmarshal([]byte(strings.SplitN(text, "\n\n", 2)[0]), &headers))
	return headers
}

func TestGateway_Open(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	assert.Equal(t, "OK", h.gateway.Open())

	h.lifecycle.openErr = &session.AuthenticationError{Err: errors.New("Invalid credentials")}
	assert.Equal(t, "error: authentication failed: Invalid credentials", h.gateway.Open())
	assert.Equal(t, 2, h.lifecycle.opens)
	assert.Equal(t, 0, h.lifecycle.revives)
}

func TestGateway_MessageTemplate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	assert.Equal(t, "from: me@example.com\nto: friend@example.com\nsubject: \"\"\n\n", h.gateway.MessageTemplate())
}

func TestGateway_Lookup(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)

	assert.Equal(t, rawMail(5), h.gateway.Lookup(5, true))

	view := h.gateway.Lookup(5, false)
	headers := headersOf(t, view)
	assert.Equal(t, "Bob <bob@example.com>", headers.From)
	assert.Equal(t, "message 5", headers.Subject)
	assert.True(t, strings.HasSuffix(view, "-- body --\n\nbody 5\n\n"), view)
}

func TestGateway_ReplyTemplate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)

	reply := h.gateway.ReplyTemplate(5)
	assert.Equal(t, mail.Headers{
		From:    "me@example.com",
		To:      "Bob <bob@example.com>",
		Subject: "Re: message 5",
	}, headersOf(t, reply))
	assert.True(t, strings.HasSuffix(reply, "> body 5\n"), reply)
}

func TestGateway_TransportFailureRevives(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.fetchErr = &session.TransportError{Err: io.EOF}

	out := h.gateway.Lookup(5, false)
	assert.Equal(t, "error: could not fetch message 5: transport failure: EOF", out)
	assert.Equal(t, 1, h.lifecycle.revives)
}

func TestGateway_NoSecondReviveAfterRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.fetchErr = &session.TransportError{Err: io.EOF}
	h.conn.EXPECT().UidSearch(gomock.Any()).Return([]uint32{1}, nil)

	out := h.gateway.Search(10)
	assert.True(t, strings.HasPrefix(out, "error: batch failed again after revive: "), out)
	assert.Equal(t, 1, h.lifecycle.revives)
}

func TestGateway_PanicBecomesError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.deliverer.EXPECT().Deliver(gomock.Any()).DoAndReturn(func(e *domain.Envelope) error {
		panic("connection vanished")
	})

	var out string
	assert.NotPanics(t, func() {
		out = h.gateway.Deliver("to: bob@example.org\nsubject: hi\n\nbody\n")
	})
	assert.Equal(t, "error: connection vanished", out)
	assert.Equal(t, 0, h.lifecycle.revives)

	// the gateway is still usable
	assert.False(t, strings.HasPrefix(h.gateway.MessageTemplate(), "error:"))
}

func TestGateway_SelectWaitsForDeletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)

	var mu sync.Mutex
	events := []string{}
	record := func(event string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	}

	release := make(chan struct{})
	h.conn.EXPECT().UidCopy(gomock.Any(), gomock.Any()).DoAndReturn(func(seqset *imap.SeqSet, dest string) error {
		<-release
		record("copy")
		return nil
	})
	h.conn.EXPECT().UidStore(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
			record("store " + seqset.String())
			return nil
		})
	h.session.EXPECT().Select(gomock.Any(), "[Gmail]/Spam").DoAndReturn(func(ctx context.Context, mailbox string) error {
		record("select " + mailbox)
		return nil
	})

	assert.Equal(t, "42 deleted", h.gateway.Flag("42", "+", "Deleted"))

	selected := make(chan string, 1)
	go func() {
		selected <- h.gateway.SelectMailbox("spam")
	}()

	select {
	case out := <-selected:
		t.Fatalf("select returned %q before the deletion finished", out)
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "OK", <-selected)
	assert.Equal(t, []string{"copy", "store 42", "select [Gmail]/Spam"}, events)
}

func TestGateway_CallerErrorDoesNotRevive(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)

	assert.Equal(t, `error: invalid uid set "x"`, h.gateway.Flag("x", "+", "Seen"))
	assert.Equal(t, 0, h.lifecycle.revives)
}

func TestGateway_Update(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)

	out, noUpdate := h.gateway.Update()
	assert.Equal(t, "error: no search to update", out)
	assert.False(t, noUpdate)

	gomock.InOrder(
		h.conn.EXPECT().UidSearch(gomock.Any()).Return([]uint32{1, 2}, nil),
		h.conn.EXPECT().UidSearch(gomock.Any()).Return([]uint32{1, 2}, nil),
		h.conn.EXPECT().UidSearch(gomock.Any()).Return([]uint32{1, 2, 3}, nil),
	)

	lines := strings.Split(h.gateway.Search(10), "\n")
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "message 1")
		assert.Contains(t, lines[1], "message 2")
	}

	out, noUpdate = h.gateway.Update()
	assert.Empty(t, out)
	assert.True(t, noUpdate)

	out, noUpdate = h.gateway.Update()
	assert.False(t, noUpdate)
	assert.True(t, strings.HasPrefix(out, "3 "), out)
	assert.Contains(t, out, "message 3")
}

func TestGateway_Deliver(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.deliverer.EXPECT().Deliver(gomock.Any()).Return(nil)
	h.journal.EXPECT().SaveDelivery(gomock.Any()).Return(nil)

	assert.Equal(t, "SENT", h.gateway.Deliver("to: bob@example.org\nsubject: hi\n\nbody\n"))
	assert.Equal(t, "error: malformed payload: no recipient in to", h.gateway.Deliver("subject: hi\n\nbody\n"))
}

func TestGateway_Outbox(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	created := time.Date(2020, 4, 14, 9, 30, 0, 0, time.Local)
	h.journal.EXPECT().RecentDeliveries(2).Return([]*domain.Delivery{
		{To: "nobody@example.org", Subject: "hi", Status: domain.DeliveryFailed, Error: "550 no such user", CreatedAt: created},
		{To: "bob@example.org", Subject: "lunch", Status: domain.DeliverySent, CreatedAt: created.Add(-time.Hour)},
	}, nil)

	assert.Equal(t,
		"2020-04-14 09:30 failed nobody@example.org hi (550 no such user)\n"+
			"2020-04-14 08:30 sent   bob@example.org lunch",
		h.gateway.Outbox(2),
	)
}

func TestGateway_History(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.journal.EXPECT().FlagOperations("INBOX").Return([]domain.FlagRecord{
		{Mailbox: "INBOX", Uids: []uint32{1}, Action: "+", Flag: "Seen"},
		{Mailbox: "INBOX", Uids: []uint32{4, 5, 6}, Action: "-", Flag: "Flagged"},
		{Mailbox: "INBOX", Uids: []uint32{7, 9}, Action: "+", Flag: "Deleted"},
	}, nil).Times(2)

	assert.Equal(t, "+Deleted 7,9\n-Flagged 4:6", h.gateway.History(2))
	assert.Equal(t, "+Deleted 7,9\n-Flagged 4:6\n+Seen 1", h.gateway.History(0))
}

func TestGateway_HistoryFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.journal.EXPECT().FlagOperations("INBOX").Return(nil, errors.New("database is locked"))

	assert.Equal(t, "error: could not read flag operations: database is locked", h.gateway.History(5))
}

func TestGateway_Close(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.journal.EXPECT().Close().Return(nil).Times(1)

	assert.NoError(t, h.gateway.Close())
	assert.NoError(t, h.gateway.Close())

	select {
	case <-h.gateway.Done():
	default:
		t.Error("done should be closed")
	}
	assert.Equal(t, 1, h.lifecycle.closes)
	assert.Equal(t, "error: gateway is closed", h.gateway.MessageTemplate())
}

func TestGateway_CloseJournalFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.journal.EXPECT().Close().Return(errors.New("database is locked"))

	assert.EqualError(t, h.gateway.Close(), "could not close journal: database is locked")
	<-h.gateway.Done()
}

func TestRpc_RoundTrip(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newHarness(ctrl)
	h.journal.EXPECT().Close().Return(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if !assert.NoError(t, err) {
		return
	}
	served := make(chan error, 1)
	go func() {
		served <- Serve(ln, NewService(h.gateway))
	}()

	client, err := Dial("tcp", ln.Addr().String())
	if !assert.NoError(t, err) {
		return
	}

	out, err := client.MessageTemplate()
	assert.NoError(t, err)
	assert.Equal(t, "from: me@example.com\nto: friend@example.com\nsubject: \"\"\n\n", out)

	out, err = client.Lookup(7, true)
	assert.NoError(t, err)
	assert.Equal(t, rawMail(7), out)

	out, noUpdate, err := client.Update()
	assert.NoError(t, err)
	assert.False(t, noUpdate)
	assert.Equal(t, "error: no search to update", out)

	out, err = client.Flag("1", "*", "Seen")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "error: invalid flag action"), out)

	h.journal.EXPECT().FlagOperations("INBOX").Return([]domain.FlagRecord{
		{Mailbox: "INBOX", Uids: []uint32{3}, Action: "+", Flag: "Flagged"},
	}, nil)
	out, err = client.History(5)
	assert.NoError(t, err)
	assert.Equal(t, "+Flagged 3", out)

	assert.NoError(t, client.Shutdown())
	<-h.gateway.Done()

	assert.NoError(t, client.Close())
	assert.NoError(t, ln.Close())
	assert.NoError(t, <-served)
}
