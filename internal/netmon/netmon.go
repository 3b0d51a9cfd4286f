// Package netmon turns interface-table polling into a network-change
// signal. The reconnect engine treats any change in the set of up
// interfaces or their addresses as a reason to cycle the tunnel.
package netmon

import (
	"context"
	"sort"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/net"
	log "github.com/sirupsen/logrus"
)

const defaultInterval = 3 * time.Second

type Monitor struct {
	interval time.Duration
	events   chan struct{}
}

func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Monitor{
		interval: interval,
		events:   make(chan struct{}, 1),
	}
}

// Events delivers one (coalesced) signal per detected change.
func (m *Monitor) Events() <-chan struct{} {
	return m.events
}

// Run polls until ctx ends. Start it on its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	last, err := currentFingerprint()
	if err != nil {
		log.WithError(err).Warn("Initial interface snapshot failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := currentFingerprint()
			if err != nil {
				log.WithError(err).Debug("Interface poll failed")
				continue
			}
			if current != last {
				log.Debug("Network interfaces changed")
				last = current
				select {
				case m.events <- struct{}{}:
				default:
				}
			}
		}
	}
}

func currentFingerprint() (string, error) {
	ifaces, err := gnet.Interfaces()
	if err != nil {
		return "", err
	}
	return Fingerprint(ifaces), nil
}

// Fingerprint reduces an interface table to a comparable string covering
// every up interface and its addresses, in stable order.
func Fingerprint(ifaces []gnet.InterfaceStat) string {
	var entries []string
	for _, iface := range ifaces {
		if !isUp(iface) {
			continue
		}
		addrs := make([]string, 0, len(iface.Addrs))
		for _, addr := range iface.Addrs {
			addrs = append(addrs, addr.Addr)
		}
		sort.Strings(addrs)
		entries = append(entries, iface.Name+"="+strings.Join(addrs, ","))
	}
	sort.Strings(entries)
	return strings.Join(entries, ";")
}

func isUp(iface gnet.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if flag == "up" {
			return true
		}
	}
	return false
}
