// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/delivery.go -package=mocks . Deliverer

// Envelope is a composed outbound message ready for submission.
type Envelope struct {
	From       string
	Recipients []string
	Body       []byte
}

type Deliverer interface {
	Deliver(e *Envelope) error
}
