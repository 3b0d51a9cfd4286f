package storage

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"gatelink/internal/models"
)

// Profile interchange documents are TOML. Secrets never travel in these
// files; they stay in the credential store and must be re-entered after an
// import.

type profileDoc struct {
	Profiles []profileEntry `toml:"profiles"`
}

type profileEntry struct {
	ID       string `toml:"id,omitempty"`
	Name     string `toml:"name"`
	Protocol string `toml:"protocol"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`

	WireGuard *wireGuardEntry `toml:"wireguard,omitempty"`
	VLESS     *vlessEntry     `toml:"vless,omitempty"`
}

type wireGuardEntry struct {
	PeerPublicKey string   `toml:"peer_public_key"`
	Endpoint      string   `toml:"endpoint,omitempty"`
	AllowedIPs    []string `toml:"allowed_ips"`
	DNS           []string `toml:"dns,omitempty"`
	MTU           int      `toml:"mtu,omitempty"`
	KeepaliveSec  int      `toml:"keepalive_sec,omitempty"`
}

type vlessEntry struct {
	Transport     string `toml:"transport"`
	SNI           string `toml:"sni,omitempty"`
	AllowInsecure bool   `toml:"allow_insecure,omitempty"`
	Obfuscation   string `toml:"obfuscation,omitempty"`
	UpstreamSOCKS string `toml:"upstream_socks,omitempty"`
}

// ExportProfiles renders profiles as a TOML document.
func ExportProfiles(profiles []*models.ServerProfile) ([]byte, error) {
	doc := profileDoc{Profiles: make([]profileEntry, 0, len(profiles))}
	for _, p := range profiles {
		entry := profileEntry{
			ID:       p.ID,
			Name:     p.Name,
			Protocol: string(p.Protocol),
			Host:     p.Host,
			Port:     p.Port,
		}
		if p.WireGuard != nil {
			entry.WireGuard = &wireGuardEntry{
				PeerPublicKey: p.WireGuard.PeerPublicKey,
				Endpoint:      p.WireGuard.Endpoint,
				AllowedIPs:    p.WireGuard.AllowedIPs,
				DNS:           p.WireGuard.DNS,
				MTU:           p.WireGuard.MTU,
				KeepaliveSec:  p.WireGuard.KeepaliveSec,
			}
		}
		if p.VLESS != nil {
			entry.VLESS = &vlessEntry{
				Transport:     p.VLESS.Transport,
				SNI:           p.VLESS.SNI,
				AllowInsecure: p.VLESS.AllowInsecure,
				Obfuscation:   p.VLESS.Obfuscation,
				UpstreamSOCKS: p.VLESS.UpstreamSOCKS,
			}
		}
		doc.Profiles = append(doc.Profiles, entry)
	}
	return toml.Marshal(doc)
}

// ImportProfiles parses a TOML document into validated profiles. Entries
// without an id are assigned one via newID; every entry must validate or
// the whole import is rejected.
func ImportProfiles(data []byte, newID func() string) ([]*models.ServerProfile, error) {
	var doc profileDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile document: %w", err)
	}

	now := time.Now()
	profiles := make([]*models.ServerProfile, 0, len(doc.Profiles))
	for i, entry := range doc.Profiles {
		p := &models.ServerProfile{
			ID:        entry.ID,
			Name:      entry.Name,
			Protocol:  models.Protocol(entry.Protocol),
			Host:      entry.Host,
			Port:      entry.Port,
			CreatedAt: now,
		}
		if p.ID == "" {
			p.ID = newID()
		}
		if entry.WireGuard != nil {
			p.WireGuard = &models.WireGuardConfig{
				PeerPublicKey: entry.WireGuard.PeerPublicKey,
				Endpoint:      entry.WireGuard.Endpoint,
				AllowedIPs:    entry.WireGuard.AllowedIPs,
				DNS:           entry.WireGuard.DNS,
				MTU:           entry.WireGuard.MTU,
				KeepaliveSec:  entry.WireGuard.KeepaliveSec,
			}
		}
		if entry.VLESS != nil {
			p.VLESS = &models.VLESSConfig{
				Transport:     entry.VLESS.Transport,
				SNI:           entry.VLESS.SNI,
				AllowInsecure: entry.VLESS.AllowInsecure,
				Obfuscation:   entry.VLESS.Obfuscation,
				UpstreamSOCKS: entry.VLESS.UpstreamSOCKS,
			}
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile entry %d (%s): %w", i+1, entry.Name, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
