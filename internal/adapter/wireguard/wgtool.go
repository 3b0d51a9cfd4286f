package wireguard

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ToolEngine adapts the system WireGuard tools (wg-quick(8), wg(8)) to the
// Engine contract. The kernel does the cryptography; this engine only
// writes configs, flips interfaces, and parses `wg show dump`.
type ToolEngine struct {
	configDir string
}

func NewToolEngine(configDir string) *ToolEngine {
	return &ToolEngine{configDir: configDir}
}

type toolHandle struct {
	iface      string
	configPath string
}

func (e *ToolEngine) Establish(ctx context.Context, cfg *EngineConfig) (Handle, error) {
	iface := fmt.Sprintf("gl%d", os.Getpid()%1000)
	configPath := filepath.Join(e.configDir, iface+".conf")

	if err := os.MkdirAll(e.configDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(configPath, []byte(renderConfig(cfg)), 0o600); err != nil {
		return nil, fmt.Errorf("write wireguard config: %w", err)
	}
	return &toolHandle{iface: iface, configPath: configPath}, nil
}

func (e *ToolEngine) SetState(ctx context.Context, h Handle, up bool, cfg *EngineConfig) error {
	th := h.(*toolHandle)
	verb := "down"
	if up {
		verb = "up"
	}
	out, err := exec.CommandContext(ctx, "wg-quick", verb, th.configPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("wg-quick %s: %w (%s)", verb, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *ToolEngine) Teardown(ctx context.Context, h Handle) error {
	th := h.(*toolHandle)
	if err := os.Remove(th.configPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Debug("Could not remove wireguard config")
	}
	return nil
}

// Statistics parses `wg show <iface> dump`. The first line describes the
// interface; each following tab-separated line is one peer:
// pubkey, psk, endpoint, allowed-ips, latest-handshake, rx, tx, keepalive.
func (e *ToolEngine) Statistics(h Handle) (*Stats, error) {
	th := h.(*toolHandle)
	out, err := exec.Command("wg", "show", th.iface, "dump").Output()
	if err != nil {
		return nil, fmt.Errorf("wg show %s: %w", th.iface, err)
	}
	return parseDump(string(out))
}

func parseDump(dump string) (*Stats, error) {
	stats := &Stats{}
	lines := strings.Split(strings.TrimSpace(dump), "\n")
	for i, line := range lines {
		if i == 0 || line == "" {
			continue // interface line
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			return nil, fmt.Errorf("malformed wg dump line: %q", line)
		}
		handshakeUnix, _ := strconv.ParseInt(fields[4], 10, 64)
		rx, _ := strconv.ParseUint(fields[5], 10, 64)
		tx, _ := strconv.ParseUint(fields[6], 10, 64)

		peer := PeerStats{RxBytes: rx, TxBytes: tx}
		if handshakeUnix > 0 {
			peer.LastHandshake = time.Unix(handshakeUnix, 0)
		}
		stats.Peers = append(stats.Peers, peer)
		stats.TotalRx += rx
		stats.TotalTx += tx
	}
	return stats, nil
}

func renderConfig(cfg *EngineConfig) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", base64.StdEncoding.EncodeToString(cfg.PrivateKey[:]))
	if cfg.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", cfg.MTU)
	}
	if len(cfg.DNS) > 0 {
		dns := make([]string, len(cfg.DNS))
		for i, ip := range cfg.DNS {
			dns[i] = ip.String()
		}
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(dns, ", "))
	}

	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", base64.StdEncoding.EncodeToString(cfg.PeerPublicKey[:]))
	if cfg.PresharedKey != nil {
		fmt.Fprintf(&b, "PresharedKey = %s\n", base64.StdEncoding.EncodeToString(cfg.PresharedKey[:]))
	}
	fmt.Fprintf(&b, "Endpoint = %s\n", cfg.Endpoint.String())
	allowed := make([]string, len(cfg.AllowedIPs))
	for i, ipnet := range cfg.AllowedIPs {
		allowed[i] = ipnet.String()
	}
	fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(allowed, ", "))
	if cfg.Keepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", int(cfg.Keepalive.Seconds()))
	}
	return b.String()
}
