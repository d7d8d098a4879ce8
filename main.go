// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CrawX/go-imap-lookupd/classifier/rspamd"
	"github.com/CrawX/go-imap-lookupd/classifier/spamassassin"
	"github.com/CrawX/go-imap-lookupd/config"
	"github.com/CrawX/go-imap-lookupd/delivery"
	"github.com/CrawX/go-imap-lookupd/fetch"
	"github.com/CrawX/go-imap-lookupd/flagging"
	"github.com/CrawX/go-imap-lookupd/gateway"
	"github.com/CrawX/go-imap-lookupd/imapconnection"
	"github.com/CrawX/go-imap-lookupd/log"
	"github.com/CrawX/go-imap-lookupd/mailbox"
	"github.com/CrawX/go-imap-lookupd/persistence"
	"github.com/CrawX/go-imap-lookupd/session"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

func main() {
	log.InitLogging("debug")
	logger := log.Logger(log.LOG_MAIN)

	configFile := "lookupd.toml"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	conf, err := config.ReadConfig(configFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}

	if conf.Loglevel != nil {
		log.SetLogLevel(*conf.Loglevel)
	}

	if conf.LogFile != "" {
		logFile, err := log.OpenLogFile(conf.LogFile)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not open log file")
		}
		defer logFile.Close()
	}

	creds, err := config.ReadCredentials(conf.CredentialsFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load credentials")
	}

	journal, err := persistence.NewPersistence(conf.Database)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not connect to database")
	}

	dialOptions := []imapconnection.ConfigFunc{}
	if conf.UseMove {
		dialOptions = append(dialOptions, imapconnection.UseMove())
	}
	if conf.Compress {
		dialOptions = append(dialOptions, imapconnection.Compress())
	}

	s := session.New(conf.ImapHost, creds.Login, creds.Password, imapconnection.Dialer(dialOptions...), session.PipelineDepth(conf.PipelineDepth))
	err = s.Open()
	if err != nil {
		logger.WithField("error", err).Fatal("Could not open imap session")
	}

	fetcher := fetch.NewEngine(
		s,
		fetch.NewQuarantine(),
		fetch.Concurrency(conf.FetchConcurrency),
		fetch.Stagger(conf.FetchStagger()),
		fetch.PollInterval(conf.PollInterval()),
		fetch.MaxPolls(conf.MaxPolls),
		fetch.SentMailbox(conf.SentMailbox),
	)

	state := mailbox.NewState(s, fetcher, config.DefaultAliases(), mailbox.LivenessTimeout(conf.LivenessTimeout()))

	flagOptions := []flagging.ConfigFunc{
		flagging.TrashMailbox(conf.TrashMailbox),
		flagging.SpamMailbox(conf.SpamMailbox),
		flagging.Journal(journal),
	}
	if conf.ExpungeDeleted {
		flagOptions = append(flagOptions, flagging.ExpungeDeleted())
	}
	switch {
	case conf.SpamassassinHost != "":
		sa, err := spamassassin.NewSpamassassin(conf.SpamassassinHost)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not start spamassassin connector")
		}
		flagOptions = append(flagOptions, flagging.Reporter(sa))
	case conf.RspamdController != "":
		rs, err := rspamd.NewRspamd(conf.RspamdController, conf.RspamdPassword)
		if err != nil {
			logger.WithField("error", err).Fatal("Could not start rspamd connector")
		}
		flagOptions = append(flagOptions, flagging.Reporter(rs))
	}
	flagger := flagging.NewEngine(s, fetcher, flagOptions...)

	smtp, err := delivery.NewSMTP(conf.SmtpHost, creds.Login, creds.Password)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not set up delivery")
	}
	sender := delivery.NewSender(smtp, creds.Login, delivery.Journal(journal))

	g := gateway.New(
		s, state, fetcher, flagger, sender, creds.Login,
		gateway.Journal(journal),
		gateway.DefaultRecipient(conf.DefaultRecipient),
	)

	if out := g.SelectMailbox("inbox"); out != "OK" {
		logger.WithField("result", out).Fatal("Could not select inbox")
	}

	if conf.ListenNetwork == "unix" {
		_ = os.Remove(conf.ListenAddress)
	}
	ln, err := net.Listen(conf.ListenNetwork, conf.ListenAddress)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not listen")
	}

	served := make(chan error, 1)
	go func() {
		served <- gateway.Serve(ln, gateway.NewService(g))
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logger.WithField("signal", sig).Info("Shutting down")
		closeBounded(logger, g)
	case <-g.Done():
		logger.Info("Closed by caller")
	case err := <-served:
		logger.WithField("error", err).Error("Stopped serving")
		closeBounded(logger, g)
	}

	err = ln.Close()
	if err != nil {
		logger.WithField("error", err).Debug("Could not close listener")
	}
}

func closeBounded(logger *logrus.Logger, g *gateway.Gateway) {
	closed := make(chan error, 1)
	go func() {
		closed <- g.Close()
	}()

	select {
	case err := <-closed:
		if err != nil {
			logger.WithField("error", err).Error("Could not close cleanly")
		}
	case <-time.After(shutdownTimeout):
		logger.WithField("timeout", shutdownTimeout).Warn("Close timed out, exiting anyway")
	}
}
