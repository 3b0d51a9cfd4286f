package models

import (
	"errors"
	"fmt"
	"time"
)

// Protocol tags a ServerProfile with the tunnel protocol it speaks.
type Protocol string

const (
	ProtocolWireGuard Protocol = "wireguard"
	ProtocolVLESS     Protocol = "vless"
)

func (p Protocol) Valid() bool {
	return p == ProtocolWireGuard || p == ProtocolVLESS
}

// WireGuardConfig holds the non-secret part of a WireGuard profile. The
// private key lives in the credential store, never here.
type WireGuardConfig struct {
	PeerPublicKey string   `json:"peer_public_key"`
	Endpoint      string   `json:"endpoint"`
	AllowedIPs    []string `json:"allowed_ips"`
	DNS           []string `json:"dns,omitempty"`
	MTU           int      `json:"mtu,omitempty"`
	KeepaliveSec  int      `json:"keepalive_sec,omitempty"`
}

// VLESSConfig holds the non-secret part of a VLESS profile. The client
// identifier (UUID) lives in the credential store.
type VLESSConfig struct {
	Transport     string `json:"transport"` // "tcp" or "tls"
	SNI           string `json:"sni,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Obfuscation   string `json:"obfuscation,omitempty"` // only "none" today
	UpstreamSOCKS string `json:"upstream_socks,omitempty"`
}

// ServerProfile is a saved server definition. It is owned by the profile
// store; the connection core only reads it.
type ServerProfile struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Protocol   Protocol         `json:"protocol"`
	Host       string           `json:"host"`
	Port       int              `json:"port"`
	WireGuard  *WireGuardConfig `json:"wireguard,omitempty"`
	VLESS      *VLESSConfig     `json:"vless,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	LastUsedAt *time.Time       `json:"last_used_at,omitempty"`
}

// Validate enforces the profile invariants: a known protocol tag, a usable
// address, and exactly one protocol config payload matching the tag.
func (p *ServerProfile) Validate() error {
	if p.ID == "" {
		return errors.New("profile id is empty")
	}
	if !p.Protocol.Valid() {
		return fmt.Errorf("unknown protocol %q", p.Protocol)
	}
	if p.Host == "" {
		return errors.New("profile host is empty")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("profile port %d out of range", p.Port)
	}
	switch {
	case p.WireGuard != nil && p.VLESS != nil:
		return errors.New("profile carries both wireguard and vless configs")
	case p.Protocol == ProtocolWireGuard && p.WireGuard == nil:
		return errors.New("wireguard profile is missing its wireguard config")
	case p.Protocol == ProtocolVLESS && p.VLESS == nil:
		return errors.New("vless profile is missing its vless config")
	}
	return nil
}

// Endpoint returns the server address in host:port form.
func (p *ServerProfile) Endpoint() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
