package tun

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/songgao/water"
)

// Device is the default Service backed by a kernel TUN interface. Address
// and route plumbing goes through the ip(8) tool, which needs elevated
// rights on most systems.
type Device struct {
	mu    sync.Mutex
	iface *water.Interface
	name  string
}

func NewDevice() *Device {
	return &Device{}
}

func (d *Device) Establish(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.iface != nil {
		return fmt.Errorf("device %s is already established", d.name)
	}

	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return fmt.Errorf("create tun device: %w", err)
	}
	d.iface = iface
	d.name = iface.Name()

	log.WithField("device", d.name).Info("TUN device established")
	return nil
}

func (d *Device) Configure(ctx context.Context, address, gateway string, mtu int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.iface == nil {
		return fmt.Errorf("no established device to configure")
	}

	cmds := [][]string{
		{"ip", "addr", "add", address, "dev", d.name},
		{"ip", "link", "set", "dev", d.name, "mtu", strconv.Itoa(mtu)},
		{"ip", "link", "set", "dev", d.name, "up"},
	}
	if gateway != "" {
		cmds = append(cmds, []string{"ip", "route", "add", "default", "via", gateway, "dev", d.name})
	}

	for _, args := range cmds {
		out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%v: %w (%s)", args, err, out)
		}
	}

	log.WithFields(log.Fields{
		"device":  d.name,
		"address": address,
		"mtu":     mtu,
	}).Info("TUN device configured")
	return nil
}

func (d *Device) Teardown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.iface == nil {
		return nil
	}

	err := d.iface.Close()
	log.WithField("device", d.name).Info("TUN device torn down")
	d.iface = nil
	d.name = ""
	return err
}
