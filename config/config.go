// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ImapHost string
	SmtpHost string

	CredentialsFile string
	LogFile         string
	Database        string

	ListenNetwork string
	ListenAddress string

	FetchConcurrency    int
	FetchStaggerMillis  int
	PollIntervalMillis  int
	MaxPolls            int
	PipelineDepth       int
	LivenessTimeoutSeconds int

	SentMailbox  string
	TrashMailbox string
	SpamMailbox  string

	UseMove        bool
	ExpungeDeleted bool
	Compress       bool

	SpamassassinHost string
	RspamdController string
	RspamdPassword   string

	DefaultRecipient string

	Loglevel *string
}

func defaultConfig() *Config {
	return &Config{
		ImapHost:            "imap.gmail.com:993",
		SmtpHost:            "smtp.gmail.com:587",
		CredentialsFile:     "gmail.yml",
		LogFile:             "gmail.log",
		Database:            "lookupd.db",
		ListenNetwork:       "tcp",
		ListenAddress:       "127.0.0.1:7788",
		FetchConcurrency:    16,
		FetchStaggerMillis:  100,
		PollIntervalMillis:  100,
		PipelineDepth:       4,
		LivenessTimeoutSeconds: 9,
		SentMailbox:         "[Gmail]/Sent Mail",
		TrashMailbox:        "[Gmail]/Trash",
		SpamMailbox:         "[Gmail]/Spam",
	}
}

func ReadConfig(filename string) (*Config, error) {
	config := defaultConfig()

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) FetchStagger() time.Duration {
	return time.Duration(c.FetchStaggerMillis) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c *Config) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSeconds) * time.Second
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.ImapHost, "ImapHost must not be empty, set to host:port of the imap server"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.SmtpHost, "SmtpHost must not be empty, set to host:port of the submission server"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.CredentialsFile, "CredentialsFile must not be empty, set to the yaml file holding login and password"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.ListenAddress, "ListenAddress must not be empty, set to host:port or a socket path"); err != nil {
		return err
	}

	if c.ListenNetwork != "tcp" && c.ListenNetwork != "unix" {
		return fmt.Errorf("ListenNetwork must be tcp or unix, got %q", c.ListenNetwork)
	}

	for _, mailbox := range []struct{ value, name string }{
		{c.SentMailbox, "SentMailbox"},
		{c.TrashMailbox, "TrashMailbox"},
		{c.SpamMailbox, "SpamMailbox"},
	} {
		if err := validateNonEmptyStringField(mailbox.value, mailbox.name+" must not be empty"); err != nil {
			return err
		}
	}

	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FetchConcurrency must be at least 1")
	}
	if c.PipelineDepth < 1 {
		return fmt.Errorf("PipelineDepth must be at least 1")
	}
	if c.LivenessTimeoutSeconds < 1 {
		return fmt.Errorf("LivenessTimeoutSeconds must be at least 1")
	}
	if c.FetchStaggerMillis < 0 || c.PollIntervalMillis < 0 || c.MaxPolls < 0 {
		return fmt.Errorf("FetchStaggerMillis, PollIntervalMillis and MaxPolls must not be negative")
	}

	spamassassinSet := len(strings.TrimSpace(c.SpamassassinHost)) > 0
	rspamdSet := len(strings.TrimSpace(c.RspamdController)) > 0
	if rspamdSet && spamassassinSet {
		return fmt.Errorf("SpamassassinHost and RspamdController cannot be set at the same time")
	}

	if rspamdSet {
		if err := validateNonEmptyStringField(c.RspamdPassword, "RspamdPassword must be set if RspamdController is set"); err != nil {
			return err
		}
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
