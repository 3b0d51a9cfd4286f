package creds

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore is the fallback for hosts without a keyring daemon. Secrets are
// sealed with a passphrase-derived key and written to a single JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
	box  *cryptoBox
	salt []byte
}

type fileVault struct {
	Salt    string            `json:"salt"`
	Entries map[string]string `json:"entries"`
}

// NewFileStore opens (or creates) the vault at path, deriving the sealing
// key from passphrase and the vault's persisted salt.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{path: path}

	vault, err := s.read()
	if err != nil {
		return nil, err
	}
	if vault.Salt == "" {
		s.salt, err = newSalt()
		if err != nil {
			return nil, fmt.Errorf("generate vault salt: %w", err)
		}
	} else {
		s.salt, err = base64.StdEncoding.DecodeString(vault.Salt)
		if err != nil {
			return nil, fmt.Errorf("vault salt is corrupt: %w", err)
		}
	}

	s.box, err = newCryptoBox(passphrase, s.salt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) read() (*fileVault, error) {
	vault := &fileVault{Entries: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return vault, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	if err := json.Unmarshal(data, vault); err != nil {
		return nil, fmt.Errorf("vault is corrupt: %w", err)
	}
	if vault.Entries == nil {
		vault.Entries = map[string]string{}
	}
	return vault, nil
}

func (s *FileStore) write(vault *fileVault) error {
	vault.Salt = base64.StdEncoding.EncodeToString(s.salt)
	data, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func entryKey(profileID string, kind Kind) string {
	return profileID + "/" + string(kind)
}

func (s *FileStore) Get(profileID string, kind Kind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.read()
	if err != nil {
		return "", err
	}
	sealed, ok := vault.Entries[entryKey(profileID, kind)]
	if !ok {
		return "", fmt.Errorf("%w: profile %s kind %s", ErrNotFound, profileID, kind)
	}
	secret, err := s.box.open(sealed)
	if err != nil {
		return "", fmt.Errorf("unseal credential: %w", err)
	}
	return secret, nil
}

func (s *FileStore) Set(profileID string, kind Kind, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.read()
	if err != nil {
		return err
	}
	sealed, err := s.box.seal(secret)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	vault.Entries[entryKey(profileID, kind)] = sealed
	return s.write(vault)
}

func (s *FileStore) Delete(profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.read()
	if err != nil {
		return err
	}
	prefix := profileID + "/"
	changed := false
	for key := range vault.Entries {
		if strings.HasPrefix(key, prefix) {
			delete(vault.Entries, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.write(vault)
}
