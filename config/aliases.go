// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

const defaultAliases = `
inbox: INBOX
sent: "[Gmail]/Sent Mail"
all: "[Gmail]/All Mail"
starred: "[Gmail]/Starred"
important: "[Gmail]/Important"
spam: "[Gmail]/Spam"
trash: "[Gmail]/Trash"
`

// Aliases maps short mailbox names to their canonical server path.
type Aliases map[string]string

func DefaultAliases() Aliases {
	aliases, err := ParseAliases(defaultAliases)
	if err != nil {
		panic(err)
	}
	return aliases
}

func ParseAliases(raw string) (Aliases, error) {
	aliases := Aliases{}
	err := yaml.Unmarshal([]byte(raw), &aliases)
	if err != nil {
		return nil, fmt.Errorf("could not parse mailbox aliases: %w", err)
	}

	return aliases, nil
}

// Resolve returns the canonical path for name, or name itself when it is not
// an alias.
func (a Aliases) Resolve(name string) string {
	if canonical, ok := a[name]; ok {
		return canonical
	}
	return name
}
