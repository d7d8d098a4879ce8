// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Credentials struct {
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
}

// ReadCredentials loads the yaml credentials file. It is read once at startup.
func ReadCredentials(filename string) (*Credentials, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	creds := &Credentials{}
	err = yaml.Unmarshal(raw, creds)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}

	if err := validateNonEmptyStringField(creds.Login, "login must not be empty in credentials file"); err != nil {
		return nil, err
	}
	if err := validateNonEmptyStringField(creds.Password, "password must not be empty in credentials file"); err != nil {
		return nil, err
	}

	return creds, nil
}
