// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
)

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1_journal.sql",
			Up: []string{
				`CREATE TABLE deliveries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					sender TEXT NOT NULL,
					recipients TEXT NOT NULL,
					subject TEXT NOT NULL,
					status TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE flag_operations (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					mailbox TEXT NOT NULL,
					uids TEXT NOT NULL,
					action TEXT NOT NULL,
					flag TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE INDEX idx_deliveries_created_at ON deliveries (created_at)`,
			},
			Down: []string{
				`DROP TABLE flag_operations`,
				`DROP TABLE deliveries`,
			},
		},
	},
}

// Persistence is the sqlite backed journal of deliveries and flag operations.
type Persistence struct {
	db *sqlx.DB
	l  *logrus.Logger

	now func() time.Time
}

var _ domain.Journal = (*Persistence)(nil)

func NewPersistence(datasource string) (*Persistence, error) {
	db, err := sqlx.Connect("sqlite3", datasource)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := log.Logger(log.LOG_PERSISTENCE)
	l.WithField("file", datasource).Info("Connected")

	_, err = db.Exec(`PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("could not set journal mode: %w", err)
	}
	_, err = db.Exec(`PRAGMA synchronous=normal`)
	if err != nil {
		return nil, fmt.Errorf("could not set synchronous mode: %w", err)
	}

	appliedMigrations, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return nil, fmt.Errorf("could not migrate to newest version: %w", err)
	}

	l.WithField("migrations", appliedMigrations).Debug("Executed migrations")

	return &Persistence{
		db:  db,
		l:   l,
		now: time.Now,
	}, nil
}

func (p *Persistence) Close() error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("could not close db: %w", err)
	}
	p.l.Info("Disconnected")
	return nil
}

func (p *Persistence) SaveDelivery(d domain.Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = p.now()
	}

	_, err := p.db.Exec(
		"INSERT INTO deliveries (sender, recipients, subject, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		d.From, d.To, d.Subject, string(d.Status), d.Error, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("could not save delivery: %w", err)
	}

	p.l.WithFields(logrus.Fields{"To": d.To, "Status": d.Status}).Debug("Persisted delivery")
	return nil
}

// RecentDeliveries returns at most limit deliveries, newest first.
func (p *Persistence) RecentDeliveries(limit int) ([]*domain.Delivery, error) {
	dbDeliveries := []struct {
		Id         int64
		Sender     string
		Recipients string
		Subject    string
		Status     string
		Error      string
		CreatedAt  time.Time `db:"created_at"`
	}{}

	err := p.db.Select(
		&dbDeliveries,
		`SELECT id, sender, recipients, subject, status, error, created_at FROM deliveries ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	deliveries := []*domain.Delivery{}
	for _, d := range dbDeliveries {
		deliveries = append(
			deliveries,
			&domain.Delivery{
				Id:        d.Id,
				From:      d.Sender,
				To:        d.Recipients,
				Subject:   d.Subject,
				Status:    domain.DeliveryStatus(d.Status),
				Error:     d.Error,
				CreatedAt: d.CreatedAt,
			},
		)
	}

	return deliveries, nil
}

func (p *Persistence) SaveFlagOperation(r domain.FlagRecord) error {
	tx, err := p.db.BeginTxx(context.TODO(), nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO flag_operations (mailbox, uids, action, flag, created_at) VALUES (?, ?, ?, ?, ?)",
		r.Mailbox, joinUids(r.Uids), r.Action, r.Flag, p.now().UTC(),
	)
	if err != nil {
		return txEnd(tx, fmt.Errorf("could not save flag operation: %w", err))
	}

	return txEnd(tx, nil)
}

// FlagOperations returns the journaled flag operations for mailbox, oldest
// first.
func (p *Persistence) FlagOperations(mailbox string) ([]domain.FlagRecord, error) {
	dbRecords := []struct {
		Mailbox string
		Uids    string
		Action  string
		Flag    string
	}{}

	err := p.db.Select(
		&dbRecords,
		`SELECT mailbox, uids, action, flag FROM flag_operations WHERE mailbox = ? ORDER BY id`,
		mailbox,
	)
	if err != nil {
		return nil, fmt.Errorf("could not query db: %w", err)
	}

	records := []domain.FlagRecord{}
	for _, r := range dbRecords {
		uids, err := splitUids(r.Uids)
		if err != nil {
			return nil, fmt.Errorf("could not read uids of flag operation: %w", err)
		}
		records = append(records, domain.FlagRecord{Mailbox: r.Mailbox, Uids: uids, Action: r.Action, Flag: r.Flag})
	}

	return records, nil
}

func joinUids(uids []uint32) string {
	s := make([]string, 0, len(uids))
	for _, uid := range uids {
		s = append(s, strconv.FormatUint(uint64(uid), 10))
	}
	return strings.Join(s, ",")
}

func splitUids(joined string) ([]uint32, error) {
	uids := []uint32{}
	if joined == "" {
		return uids, nil
	}
	for _, s := range strings.Split(joined, ",") {
		uid, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, err
		}
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("could not commit tx: %w", err)
		}
		return nil
	}

	rollbackErr := tx.Rollback()
	if rollbackErr != nil {
		return fmt.Errorf("%s, could not rollback tx: %w", err.Error(), rollbackErr)
	}
	return err
}
