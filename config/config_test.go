// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(path, []byte(content), 0600)
	assert.NoError(t, err)
	return path
}

func TestReadConfig_Defaults(t *testing.T) {
	path := writeFile(t, "lookupd.toml", `Loglevel = "debug"`)

	cfg, err := ReadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "imap.gmail.com:993", cfg.ImapHost)
	assert.Equal(t, "[Gmail]/Trash", cfg.TrashMailbox)
	assert.Equal(t, 100*time.Millisecond, cfg.FetchStagger())
	assert.Equal(t, 9*time.Second, cfg.LivenessTimeout())
	assert.Equal(t, 0, cfg.MaxPolls)
	if assert.NotNil(t, cfg.Loglevel) {
		assert.Equal(t, "debug", *cfg.Loglevel)
	}
}

func TestReadConfig_Overrides(t *testing.T) {
	path := writeFile(t, "lookupd.toml", `
ImapHost = "imap.example.com:993"
FetchConcurrency = 4
FetchStaggerMillis = 0
UseMove = true
ListenNetwork = "unix"
ListenAddress = "/tmp/lookupd.sock"
`)

	cfg, err := ReadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "imap.example.com:993", cfg.ImapHost)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, time.Duration(0), cfg.FetchStagger())
	assert.True(t, cfg.UseMove)
	assert.Equal(t, "unix", cfg.ListenNetwork)
}

func TestReadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     string
	}{
		{"emptyhost", `ImapHost = " "`, "ImapHost must not be empty, set to host:port of the imap server"},
		{"network", `ListenNetwork = "udp"`, `ListenNetwork must be tcp or unix, got "udp"`},
		{"concurrency", `FetchConcurrency = 0`, "FetchConcurrency must be at least 1"},
		{"trash", `TrashMailbox = ""`, "TrashMailbox must not be empty"},
		{"classifiers", "SpamassassinHost = \"localhost:783\"\nRspamdController = \"http://localhost:11334\"", "SpamassassinHost and RspamdController cannot be set at the same time"},
		{"rspamdpassword", `RspamdController = "http://localhost:11334"`, "RspamdPassword must be set if RspamdController is set"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ReadConfig(writeFile(t, "lookupd.toml", tc.content))
			assert.Nil(t, cfg)
			assert.EqualError(t, err, tc.err)
		})
	}
}

func TestReadConfig_MissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestReadCredentials(t *testing.T) {
	path := writeFile(t, "gmail.yml", "login: me@example.com\npassword: secret\n")

	creds, err := ReadCredentials(path)
	assert.NoError(t, err)
	assert.Equal(t, &Credentials{Login: "me@example.com", Password: "secret"}, creds)
}

func TestReadCredentials_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"nopassword", "login: me@example.com\n"},
		{"badyaml", "login: [unterminated\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			creds, err := ReadCredentials(writeFile(t, "gmail.yml", tc.content))
			assert.Nil(t, creds)
			assert.Error(t, err)
		})
	}
}

func TestAliases_Resolve(t *testing.T) {
	aliases := DefaultAliases()

	assert.Equal(t, "[Gmail]/Spam", aliases.Resolve("spam"))
	assert.Equal(t, "[Gmail]/Sent Mail", aliases.Resolve("sent"))
	assert.Equal(t, "INBOX", aliases.Resolve("inbox"))
	assert.Equal(t, "Receipts/2020", aliases.Resolve("Receipts/2020"))
}
