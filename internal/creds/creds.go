// Package creds is the credential store contract and its implementations.
// Secrets are addressed by profile id plus a typed kind; profile records
// themselves never carry key material.
package creds

import "errors"

// Kind names one secret slot of a profile.
type Kind string

const (
	KindWireGuardPrivateKey   Kind = "wg-private-key"
	KindWireGuardPresharedKey Kind = "wg-preshared-key"
	KindVlessID               Kind = "vless-id"
)

// allKinds is the full slot set Delete must clear.
var allKinds = []Kind{KindWireGuardPrivateKey, KindWireGuardPresharedKey, KindVlessID}

// ErrNotFound is returned when no secret is stored for a profile and kind.
var ErrNotFound = errors.New("credential not found")

// Store persists per-profile secrets.
//
// Delete removes every kind for the profile; implementations attempt all
// kinds and report a joined error, so a failed delete never leaves a
// partial credential set silently retrievable.
type Store interface {
	Get(profileID string, kind Kind) (string, error)
	Set(profileID string, kind Kind, secret string) error
	Delete(profileID string) error
}
