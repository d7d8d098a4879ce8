// SPDX-License-Identifier: GPL-3.0-or-later
package spamassassin

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/mail"

	"github.com/sirupsen/logrus"
	"github.com/teamwork/spamc"
)

const SpamAssassinTimeout = 20 * time.Second

type SpamAssassin struct {
	client *spamc.Client
	l      *logrus.Logger
}

var _ domain.SpamReporter = (*SpamAssassin)(nil)

func NewSpamassassin(host string) (*SpamAssassin, error) {
	sa := newSpamassassin(host)
	err := sa.client.Ping(context.TODO())
	if err != nil {
		return nil, fmt.Errorf("could not ping SpamAssassin: %w", err)
	}

	sa.l.WithField("host", host).Info("Connected")
	return sa, nil
}

func newSpamassassin(host string) *SpamAssassin {
	return &SpamAssassin{
		client: spamc.New(host, &net.Dialer{
			Timeout: SpamAssassinTimeout,
		}),
		l: log.Logger(log.LOG_CLASSIFIER),
	}
}

// Learn tells spamd to learn rawMail into its local database. Reports
// wrapping an original mail are unwrapped first.
func (sa *SpamAssassin) Learn(learnType domain.LearnType, rawMail []byte) error {
	header := spamc.Header{}.Set("Set", "local")
	switch learnType {
	case domain.LearnSpam:
		header = header.Set("Message-class", "spam")
	case domain.LearnHam:
		header = header.Set("Message-class", "ham")
	default:
		return fmt.Errorf("unsupported learn type %v", learnType)
	}

	unwrapped, err := mail.UnwrapSpamassassinReport(rawMail)
	if err != nil {
		return fmt.Errorf("could not unwrap SpamAssassin-style report: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), SpamAssassinTimeout)
	defer cancel()

	err = sa.tell(ctx, unwrapped, header)
	if err != nil {
		return fmt.Errorf("could not learn SpamAssassin: %w", err)
	}

	sa.l.WithFields(logrus.Fields{"type": learnType, "bytes": len(unwrapped)}).Debug("Learned")
	return nil
}

// tell turns the nil response spamc dereferences after a failed send into an
// error.
func (sa *SpamAssassin) tell(ctx context.Context, msg []byte, header spamc.Header) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sa.l.WithField("panic", r).Warn("spamc failed without a response")
			err = fmt.Errorf("no response from spamd: %v", r)
		}
	}()

	_, err = sa.client.Tell(ctx, bytes.NewReader(msg), header)
	return err
}
