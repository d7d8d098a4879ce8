// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

//go:generate mockgen -destination=mocks/persistence.go -package=mocks . Journal
type DeliveryStatus string

const (
	DeliverySent   = DeliveryStatus("sent")
	DeliveryFailed = DeliveryStatus("failed")
)

type Delivery struct {
	Id        int64
	From      string
	To        string
	Subject   string
	Status    DeliveryStatus
	Error     string
	CreatedAt time.Time
}

type FlagRecord struct {
	Mailbox string
	Uids    []uint32
	Action  string
	Flag    string
}

// Journal records what the daemon did on behalf of its caller.
type Journal interface {
	Close() error
	SaveDelivery(d Delivery) error
	RecentDeliveries(limit int) ([]*Delivery, error)
	SaveFlagOperation(r FlagRecord) error
	FlagOperations(mailbox string) ([]FlagRecord, error)
}
