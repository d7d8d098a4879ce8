// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"crypto/tls"
	"fmt"

	"github.com/CrawX/go-imap-lookupd/domain"
	"github.com/CrawX/go-imap-lookupd/log"

	"github.com/emersion/go-imap-compress"
	"github.com/emersion/go-imap-move"
	"github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

type ConfigFunc func(c *configuration)

type configuration struct {
	useMove   bool
	compress  bool
	tlsConfig *tls.Config
}

// UseMove prefers the MOVE extension over copy and \Deleted when the server
// supports it.
func UseMove() ConfigFunc {
	return func(c *configuration) {
		c.useMove = true
	}
}

// Compress enables COMPRESS=DEFLATE after login when offered.
func Compress() ConfigFunc {
	return func(c *configuration) {
		c.compress = true
	}
}

func TLSConfig(tlsConfig *tls.Config) ConfigFunc {
	return func(c *configuration) {
		c.tlsConfig = tlsConfig
	}
}

// Connection is a live IMAP connection plus the extension dependent
// strategies used to move and expunge mails.
type Connection struct {
	*client.Client

	mailExpunger expunger
	mailMover    mover

	server        string
	configuration *configuration

	l *logrus.Logger
}

var _ domain.ImapClient = (*Connection)(nil)

// Dialer returns a dial function for session.New.
func Dialer(configFunc ...ConfigFunc) func(server string) (domain.ImapClient, error) {
	return func(server string) (domain.ImapClient, error) {
		return Dial(server, configFunc...)
	}
}

func Dial(server string, configFunc ...ConfigFunc) (*Connection, error) {
	config := &configuration{}
	for _, f := range configFunc {
		f(config)
	}

	imapClient, err := client.DialTLS(server, config.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("could not dial to imap: %w", err)
	}

	conn := &Connection{
		Client:        imapClient,
		server:        server,
		configuration: config,
		l:             log.Logger(log.LOG_IMAP),
	}
	// Until Negotiate runs nothing is known about the server's extensions.
	conn.mailExpunger = &guardedExpunger{imapConn: conn}
	conn.mailMover = &copyFlagMover{imapConn: conn}

	return conn, nil
}

// Negotiate picks the expunge and move strategies. It must run after login
// since servers advertise extensions only to authenticated clients.
func (ic *Connection) Negotiate() error {
	baseLogger := ic.l.WithFields(logrus.Fields{"server": ic.server})

	if ic.configuration.compress {
		compressClient := compress.NewClient(ic.Client)
		supported, err := compressClient.SupportCompress(compress.Deflate)
		if err != nil {
			return fmt.Errorf("could not check for COMPRESS support: %w", err)
		}
		if supported {
			err = compressClient.Compress(compress.Deflate)
			if err != nil {
				return fmt.Errorf("could not enable compression: %w", err)
			}
			baseLogger.Debug("COMPRESS=DEFLATE enabled")
		} else {
			baseLogger.Info("COMPRESS=DEFLATE not supported on server, continuing uncompressed")
		}
	}

	uidPlusClient := uidplus.NewClient(ic.Client)
	uidPlusSupported, err := uidPlusClient.SupportUidPlus()
	if err != nil {
		return fmt.Errorf("could not check for UIDPLUS support: %w", err)
	}

	if uidPlusSupported {
		baseLogger.Debug("UIDPLUS supported on server, using UID EXPUNGE")
		ic.mailExpunger = &uidPlusExpunger{uidplusClient: uidPlusClient}
	} else {
		baseLogger.Info("UIDPLUS not supported on server, expunge only when no foreign \\Deleted mails are present")
		ic.mailExpunger = &guardedExpunger{imapConn: ic}
	}

	if !ic.configuration.useMove {
		baseLogger.Debug("Moving via copy & \\Deleted flag")
		return nil
	}

	moveClient := move.NewClient(ic.Client)
	moveSupported, err := moveClient.SupportMove()
	if err != nil {
		return fmt.Errorf("could not check for MOVE support: %w", err)
	}

	if moveSupported {
		baseLogger.Debug("MOVE supported on server")
		ic.mailMover = &moveMover{moveClient: moveClient}
	} else {
		baseLogger.Info("MOVE not supported on server, falling back to copy & \\Deleted flag")
	}

	return nil
}

func (ic *Connection) MoveUids(uids []uint32, dest string) error {
	return ic.mailMover.move(uids, dest)
}

func (ic *Connection) ExpungeUids(uids []uint32) error {
	return ic.mailExpunger.expunge(uids)
}
