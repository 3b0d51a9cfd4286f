package wireguard

import (
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/curve25519"

	"gatelink/internal/models"
	"gatelink/internal/vpnerror"
)

const defaultMTU = 1420

func decodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("key is not valid base64: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("key is %d bytes, want %d", len(raw), len(key))
	}
	copy(key[:], raw)
	return key, nil
}

func derivePublicKey(privateKey [32]byte) ([32]byte, error) {
	var public [32]byte
	raw, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return public, fmt.Errorf("derive public key: %w", err)
	}
	copy(public[:], raw)
	return public, nil
}

// buildEngineConfig turns a validated profile plus its private key into the
// engine-native configuration, classifying every malformed field.
func buildEngineConfig(profile *models.ServerProfile, privateKeyB64, presharedB64 string) (*EngineConfig, error) {
	wg := profile.WireGuard

	cfg := &EngineConfig{MTU: wg.MTU}
	if cfg.MTU == 0 {
		cfg.MTU = defaultMTU
	}
	if wg.KeepaliveSec > 0 {
		cfg.Keepalive = time.Duration(wg.KeepaliveSec) * time.Second
	}

	var err error
	if cfg.PrivateKey, err = decodeKey(privateKeyB64); err != nil {
		return nil, vpnerror.WireGuardBadKeys("private "+err.Error(), err)
	}
	if cfg.PublicKey, err = derivePublicKey(cfg.PrivateKey); err != nil {
		return nil, vpnerror.WireGuardBadKeys(err.Error(), err)
	}
	if cfg.PeerPublicKey, err = decodeKey(wg.PeerPublicKey); err != nil {
		return nil, vpnerror.WireGuardBadKeys("peer public "+err.Error(), err)
	}
	if presharedB64 != "" {
		psk, err := decodeKey(presharedB64)
		if err != nil {
			return nil, vpnerror.WireGuardBadKeys("preshared "+err.Error(), err)
		}
		cfg.PresharedKey = &psk
	}

	endpoint := wg.Endpoint
	if endpoint == "" {
		endpoint = profile.Endpoint()
	}
	cfg.Endpoint, err = net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, vpnerror.WireGuardEndpoint(endpoint, err)
	}

	for _, cidr := range wg.AllowedIPs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, vpnerror.WireGuardAllowedRange(cidr, err)
		}
		cfg.AllowedIPs = append(cfg.AllowedIPs, *ipnet)
	}
	if len(cfg.AllowedIPs) == 0 {
		return nil, vpnerror.Configuration("allowed_ips", "wireguard profile has no allowed address ranges")
	}

	for _, d := range wg.DNS {
		ip := net.ParseIP(d)
		if ip == nil {
			return nil, vpnerror.Configuration("dns", fmt.Sprintf("dns server %q is not an IP address", d))
		}
		cfg.DNS = append(cfg.DNS, ip)
	}

	return cfg, nil
}
