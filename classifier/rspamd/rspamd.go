// SPDX-License-Identifier: GPL-3.0-or-later
package rspamd

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/mail"

	"github.com/sirupsen/logrus"
)

const RspamdTimeout = 20 * time.Second

type Rspamd struct {
	client   *http.Client
	host     string
	password string

	l *logrus.Logger
}

var _ domain.SpamReporter = (*Rspamd)(nil)

func NewRspamd(host, password string) (*Rspamd, error) {
	rspamd := &Rspamd{
		client: &http.Client{
			Timeout: RspamdTimeout,
		},
		host:     strings.TrimSuffix(host, "/"),
		password: password,
		l:        log.Logger(log.LOG_CLASSIFIER),
	}
	err := rspamd.Ping()
	if err != nil {
		return nil, err
	}

	rspamd.l.WithField("host", host).Info("Connected")
	return rspamd, nil
}

func (rs *Rspamd) Ping() error {
	resp, err := rs.client.Get(rs.host + "/ping")
	if err != nil {
		return fmt.Errorf("could not ping rspamd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from rspamd, expected 200", resp.StatusCode)
	}

	return nil
}

// Learn posts rawMail to the learnspam or learnham endpoint of the rspamd
// controller. A mail rspamd already knows is not an error.
func (rs *Rspamd) Learn(learnType domain.LearnType, rawMail []byte) error {
	suffix := ""
	switch learnType {
	case domain.LearnSpam:
		suffix = "learnspam"
	case domain.LearnHam:
		suffix = "learnham"
	default:
		return fmt.Errorf("unsupported learn type %v", learnType)
	}

	unwrapped, err := mail.UnwrapSpamassassinReport(rawMail)
	if err != nil {
		return fmt.Errorf("could not unwrap SpamAssassin-style report: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, rs.host+"/"+suffix, bytes.NewReader(unwrapped))
	if err != nil {
		return fmt.Errorf("could not create learn request: %w", err)
	}

	resp, err := rs.doAuthenticated(req)
	if err != nil {
		return fmt.Errorf("could not perform learn request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAlreadyReported && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d from rspamd, expected 200/204/208", resp.StatusCode)
	}

	rs.l.WithFields(logrus.Fields{"type": learnType, "status": resp.StatusCode}).Debug("Learned")
	return nil
}

func (rs *Rspamd) doAuthenticated(req *http.Request) (*http.Response, error) {
	req.Header.Set("Password", rs.password)
	resp, err := rs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request to rspamd: %w", err)
	}

	return resp, nil
}
