// SPDX-License-Identifier: GPL-3.0-or-later
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"

	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const DefaultPipelineDepth = 4

type Dialer func(server string) (domain.ImapClient, error)

type ConfigFunc func(s *Session)

// PipelineDepth bounds how many commands may be in flight on the connection
// at once. 1 serializes every command.
func PipelineDepth(depth int) ConfigFunc {
	return func(s *Session) {
		if depth > 0 {
			s.gate = semaphore.NewWeighted(int64(depth))
		}
	}
}

func Logger(l *logrus.Logger) ConfigFunc {
	return func(s *Session) {
		s.l = l
	}
}

// Session owns the single IMAP connection of the process. All protocol
// operations go through Do.
type Session struct {
	server, user, password string
	dial                   Dialer

	mu       sync.RWMutex
	client   domain.ImapClient
	selected string

	gate *semaphore.Weighted

	l *logrus.Logger
}

var _ domain.Session = (*Session)(nil)

func New(server, user, password string, dial Dialer, configFunc ...ConfigFunc) *Session {
	s := &Session{
		server:   server,
		user:     user,
		password: password,
		dial:     dial,
		gate:     semaphore.NewWeighted(DefaultPipelineDepth),
		l:        log.Logger(log.LOG_SESSION),
	}
	for _, f := range configFunc {
		f(s)
	}
	return s
}

// Open dials and authenticates. It does not retry.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open()
}

func (s *Session) open() error {
	baseLogger := s.l.WithFields(logrus.Fields{"server": s.server, "user": s.user})
	baseLogger.Debug("Opening connection")

	c, err := s.dial(s.server)
	if err != nil {
		baseLogger.WithField("error", err).Error("Could not connect")
		return &ConnectError{Err: err}
	}

	err = s.authenticate(c)
	if err != nil {
		baseLogger.WithField("error", err).Error("Could not authenticate")
		_ = c.Terminate()
		return &AuthenticationError{Err: err}
	}

	if n, ok := c.(domain.Negotiator); ok {
		err = n.Negotiate()
		if err != nil {
			baseLogger.WithField("error", err).Error("Could not negotiate extensions")
			_ = c.Terminate()
			return &ConnectError{Err: err}
		}
	}

	s.client = c
	baseLogger.Info("Logged in to server")
	return nil
}

func (s *Session) authenticate(c domain.ImapClient) error {
	plain, err := c.SupportAuth(sasl.Plain)
	if err != nil {
		return fmt.Errorf("could not query auth mechanisms: %w", err)
	}

	if plain {
		return c.Authenticate(sasl.NewPlainClient("", s.user, s.password))
	}
	return c.Login(s.user, s.password)
}

// Close ends the session gracefully. A failing CLOSE is tolerated; the
// connection is always dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.l.Info("Closing connection")
	if s.client == nil {
		return
	}

	if err := s.client.Close(); err != nil {
		s.l.WithField("error", err).Debug("CLOSE failed, disconnecting anyway")
	}
	if err := s.client.Logout(); err != nil {
		s.l.WithField("error", err).Debug("LOGOUT failed, terminating connection")
		_ = s.client.Terminate()
	}

	s.client = nil
	s.l.Info("Disconnected")
}

// Revive replaces a broken connection and re-selects the mailbox that was
// selected before the failure.
func (s *Session) Revive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.l.WithField("mailbox", s.selected).Warn("Reviving connection")
	if s.client != nil {
		_ = s.client.Terminate()
		s.client = nil
	}

	err := s.open()
	if err != nil {
		return fmt.Errorf("could not revive connection: %w", err)
	}

	if s.selected == "" {
		return nil
	}

	s.l.WithField("mailbox", s.selected).Info("Reselecting mailbox")
	_, err = s.client.Select(s.selected, false)
	if err != nil {
		return fmt.Errorf("could not reselect %s: %w", s.selected, err)
	}

	return nil
}

// Select selects mailbox on the live connection and remembers it for Revive.
// A rejected SELECT leaves the server without a selected mailbox, so the
// remembered one is forgotten as well.
func (s *Session) Select(ctx context.Context, mailbox string) error {
	err := s.Do(ctx, func(c domain.ImapClient) error {
		_, err := c.Select(mailbox, false)
		return err
	})
	if err != nil {
		if !IsTransport(err) {
			s.mu.Lock()
			s.selected = ""
			s.mu.Unlock()
		}
		return err
	}

	s.mu.Lock()
	s.selected = mailbox
	s.mu.Unlock()

	s.l.WithField("mailbox", mailbox).Debug("Selected mailbox")
	return nil
}

func (s *Session) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.selected
}

// Do runs fn against the live connection once the pipeline gate admits it.
// If ctx ends before fn returns, Do gives up with a TransportError; fn keeps
// running, and keeps its gate slot, until the connection answers or is
// terminated by Revive.
func (s *Session) Do(ctx context.Context, fn func(c domain.ImapClient) error) error {
	err := s.gate.Acquire(ctx, 1)
	if err != nil {
		return &TransportError{Err: err}
	}

	s.mu.RLock()
	c := s.client
	s.mu.RUnlock()

	if c == nil {
		s.gate.Release(1)
		return ErrNotOpen
	}

	done := make(chan error, 1)
	go func() {
		defer s.gate.Release(1)
		done <- fn(c)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		return &TransportError{Err: ctx.Err()}
	}

	if isTransportFailure(err) {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Err: err}
		}
	}

	return err
}
