package creds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vault.json")
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(vaultPath(t), "hunter2")
	require.NoError(t, err)

	require.NoError(t, store.Set("p-1", KindWireGuardPrivateKey, "the-private-key"))
	require.NoError(t, store.Set("p-1", KindVlessID, "the-client-id"))

	got, err := store.Get("p-1", KindWireGuardPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "the-private-key", got)

	got, err = store.Get("p-1", KindVlessID)
	require.NoError(t, err)
	assert.Equal(t, "the-client-id", got)
}

func TestFileStoreGetMissing(t *testing.T) {
	store, err := NewFileStore(vaultPath(t), "hunter2")
	require.NoError(t, err)

	_, err = store.Get("nobody", KindVlessID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreSecretsNotPlaintextOnDisk(t *testing.T) {
	path := vaultPath(t)
	store, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)
	require.NoError(t, store.Set("p-1", KindWireGuardPrivateKey, "super-secret-material"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-material")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := vaultPath(t)

	store, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)
	require.NoError(t, store.Set("p-1", KindVlessID, "persisted"))

	// Same passphrase, fresh store: the persisted salt must make the key
	// derivation reproducible.
	reopened, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)
	got, err := reopened.Get("p-1", KindVlessID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestFileStoreWrongPassphrase(t *testing.T) {
	path := vaultPath(t)

	store, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)
	require.NoError(t, store.Set("p-1", KindVlessID, "persisted"))

	wrong, err := NewFileStore(path, "not-hunter2")
	require.NoError(t, err)
	_, err = wrong.Get("p-1", KindVlessID)
	assert.Error(t, err)
}

func TestFileStoreEmptyPassphrase(t *testing.T) {
	_, err := NewFileStore(vaultPath(t), "")
	assert.Error(t, err)
}

func TestFileStoreDeleteClearsAllKinds(t *testing.T) {
	store, err := NewFileStore(vaultPath(t), "hunter2")
	require.NoError(t, err)

	require.NoError(t, store.Set("p-1", KindWireGuardPrivateKey, "a"))
	require.NoError(t, store.Set("p-1", KindWireGuardPresharedKey, "b"))
	require.NoError(t, store.Set("p-1", KindVlessID, "c"))
	require.NoError(t, store.Set("p-2", KindVlessID, "keep"))

	require.NoError(t, store.Delete("p-1"))

	for _, kind := range allKinds {
		_, err := store.Get("p-1", kind)
		assert.ErrorIs(t, err, ErrNotFound, "kind %s", kind)
	}

	got, err := store.Get("p-2", KindVlessID)
	require.NoError(t, err)
	assert.Equal(t, "keep", got, "other profiles are untouched")

	// Deleting a profile with no secrets is a no-op, not an error.
	assert.NoError(t, store.Delete("p-1"))
}

func TestCryptoBoxRejectsCorruptCiphertext(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)
	box, err := newCryptoBox("hunter2", salt)
	require.NoError(t, err)

	sealed, err := box.seal("payload")
	require.NoError(t, err)

	_, err = box.open("not-base64!!")
	assert.Error(t, err)
	_, err = box.open("AAAA")
	assert.Error(t, err, "shorter than a nonce")

	got, err := box.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
}
