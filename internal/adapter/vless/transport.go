package vless

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"gatelink/internal/models"
	"gatelink/internal/vpnerror"
)

// Dialer opens the wire transport a profile asks for. Implementations wrap
// each other: TLS over TCP, either optionally through an upstream SOCKS5
// proxy.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

const dialTimeout = 10 * time.Second

// NewDialer builds the transport stack for a profile's VLESS config.
// Unknown transports and obfuscation modes are configuration failures, not
// dial-time surprises.
func NewDialer(cfg *models.VLESSConfig, host string) (Dialer, error) {
	switch cfg.Obfuscation {
	case "", "none":
	default:
		return nil, vpnerror.VlessObfuscation(
			fmt.Sprintf("obfuscation mode %q is not supported", cfg.Obfuscation), nil)
	}

	var base proxy.ContextDialer = &net.Dialer{Timeout: dialTimeout}
	if cfg.UpstreamSOCKS != "" {
		socks, err := proxy.SOCKS5("tcp", cfg.UpstreamSOCKS, nil, proxy.Direct)
		if err != nil {
			return nil, vpnerror.VlessTransport("bad upstream socks address: "+err.Error(), err)
		}
		ctxDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, vpnerror.VlessTransport("upstream socks dialer does not support contexts", nil)
		}
		base = ctxDialer
	}

	switch cfg.Transport {
	case "", "tcp":
		return &tcpDialer{base: base}, nil
	case "tls":
		serverName := cfg.SNI
		if serverName == "" {
			serverName = host
		}
		return &tlsDialer{
			base: base,
			config: &tls.Config{
				ServerName:         serverName,
				InsecureSkipVerify: cfg.AllowInsecure,
			},
		}, nil
	default:
		return nil, vpnerror.VlessTransport(
			fmt.Sprintf("transport %q is not supported", cfg.Transport), nil)
	}
}

type tcpDialer struct {
	base proxy.ContextDialer
}

func (d *tcpDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := d.base.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

type tlsDialer struct {
	base   proxy.ContextDialer
	config *tls.Config
}

func (d *tlsDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	raw, err := d.base.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn := tls.Client(raw, d.config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return conn, nil
}
