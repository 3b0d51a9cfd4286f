package creds

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const keyringService = "gatelink"

// KeyringStore keeps secrets in the platform keyring.
type KeyringStore struct {
	service string
}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService}
}

func (s *KeyringStore) key(profileID string, kind Kind) string {
	return fmt.Sprintf("%s/%s", profileID, kind)
}

func (s *KeyringStore) Get(profileID string, kind Kind) (string, error) {
	secret, err := keyring.Get(s.service, s.key(profileID, kind))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: profile %s kind %s", ErrNotFound, profileID, kind)
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return secret, nil
}

func (s *KeyringStore) Set(profileID string, kind Kind, secret string) error {
	if err := keyring.Set(s.service, s.key(profileID, kind), secret); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (s *KeyringStore) Delete(profileID string) error {
	var errs []error
	for _, kind := range allKinds {
		err := keyring.Delete(s.service, s.key(profileID, kind))
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			log.WithFields(log.Fields{
				"profile": profileID,
				"kind":    kind,
			}).WithError(err).Warn("Failed to delete credential")
			errs = append(errs, fmt.Errorf("delete %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}
