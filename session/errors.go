// SPDX-License-Identifier: GPL-3.0-or-later
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/emersion/go-imap/client"
)

// ErrNotOpen is returned for operations issued before Open or after Close.
// Callers hitting it have a sequencing bug.
var ErrNotOpen = errors.New("session is not open")

type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("could not connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError marks a failure of the connection itself rather than of a
// single command. It is the signal for Revive.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EADDRNOTAVAIL) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, client.ErrAlreadyLoggedOut) ||
		errors.Is(err, client.ErrNotLoggedIn) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// go-imap reports a dropped connection mid command only as text.
	return strings.Contains(err.Error(), "connection closed")
}

// RevivedError marks a failure that already went through Revive on its way
// up. Callers seeing it must not revive again.
type RevivedError struct {
	Err error
}

func (e *RevivedError) Error() string {
	return e.Err.Error()
}

func (e *RevivedError) Unwrap() error {
	return e.Err
}

func AlreadyRevived(err error) bool {
	var re *RevivedError
	return errors.As(err, &re)
}
