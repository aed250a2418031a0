// SPDX-License-Identifier: Apache-2.0

// Package secrets resolves opaque credential handles against the operating
// system keyring. The rest of the program only ever passes handles around;
// plaintext secrets exist solely inside the call frame that needs them (DSN
// construction, SMTP dial) and are never stored on a long-lived struct.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service name all credential entries live under.
// Entries are scoped to the local execution identity by the OS keyring itself.
const Service = "changereport"

// HandlePrefix marks a credential handle in configuration files. Handles
// without the prefix are treated as bare keyring account names for backwards
// compatibility with configs written by older setup tooling.
const HandlePrefix = "keyring:"

var ErrEmptyHandle = errors.New("credential handle is empty")

// Resolver reveals the plaintext secret behind an opaque credential handle.
type Resolver interface {
	Reveal(handle string) (string, error)
}

// Keyring is the production Resolver backed by the OS keyring.
type Keyring struct{}

// Reveal looks up the secret for a handle of the form "keyring:<account>".
func (Keyring) Reveal(handle string) (string, error) {
	account := Account(handle)
	if account == "" {
		return "", ErrEmptyHandle
	}
	secret, err := keyring.Get(Service, account)
	if err != nil {
		return "", fmt.Errorf("resolving credential %q: %w", account, err)
	}
	return secret, nil
}

// Store writes a secret under the given account, returning the handle to put
// into the configuration file.
func (Keyring) Store(account, secret string) (string, error) {
	if account == "" {
		return "", ErrEmptyHandle
	}
	if err := keyring.Set(Service, account, secret); err != nil {
		return "", fmt.Errorf("storing credential %q: %w", account, err)
	}
	return HandlePrefix + account, nil
}

// Delete removes a stored credential.
func (Keyring) Delete(account string) error {
	if account == "" {
		return ErrEmptyHandle
	}
	if err := keyring.Delete(Service, account); err != nil {
		return fmt.Errorf("deleting credential %q: %w", account, err)
	}
	return nil
}

// Account extracts the keyring account name from a handle.
func Account(handle string) string {
	return strings.TrimSpace(strings.TrimPrefix(handle, HandlePrefix))
}

// Static is a fixed handle-to-secret map used in tests and dry runs.
type Static map[string]string

func (s Static) Reveal(handle string) (string, error) {
	account := Account(handle)
	if account == "" {
		return "", ErrEmptyHandle
	}
	secret, ok := s[account]
	if !ok {
		return "", fmt.Errorf("unknown credential %q", account)
	}
	return secret, nil
}
