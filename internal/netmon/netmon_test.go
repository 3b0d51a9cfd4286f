package netmon

import (
	"testing"
	"time"

	gnet "github.com/shirou/gopsutil/net"
	"github.com/stretchr/testify/assert"
)

func iface(name string, up bool, addrs ...string) gnet.InterfaceStat {
	st := gnet.InterfaceStat{Name: name}
	if up {
		st.Flags = []string{"up", "broadcast"}
	}
	for _, a := range addrs {
		st.Addrs = append(st.Addrs, gnet.InterfaceAddr{Addr: a})
	}
	return st
}

func TestFingerprintIgnoresDownInterfaces(t *testing.T) {
	withDown := []gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.5/24"),
		iface("wlan0", false, "10.0.0.3/24"),
	}
	withoutDown := []gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.5/24"),
	}
	assert.Equal(t, Fingerprint(withoutDown), Fingerprint(withDown))
}

func TestFingerprintIsOrderIndependent(t *testing.T) {
	a := []gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.5/24", "fe80::1/64"),
		iface("wlan0", true, "10.0.0.3/24"),
	}
	b := []gnet.InterfaceStat{
		iface("wlan0", true, "10.0.0.3/24"),
		iface("eth0", true, "fe80::1/64", "192.168.1.5/24"),
	}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintChangesWithAddresses(t *testing.T) {
	before := Fingerprint([]gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.5/24"),
	})
	after := Fingerprint([]gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.99/24"),
	})
	assert.NotEqual(t, before, after)
}

func TestFingerprintChangesWhenInterfaceGoesDown(t *testing.T) {
	before := Fingerprint([]gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.5/24"),
		iface("wlan0", true, "10.0.0.3/24"),
	})
	after := Fingerprint([]gnet.InterfaceStat{
		iface("eth0", true, "192.168.1.5/24"),
		iface("wlan0", false, "10.0.0.3/24"),
	})
	assert.NotEqual(t, before, after)
}

func TestFingerprintEmpty(t *testing.T) {
	assert.Equal(t, "", Fingerprint(nil))
	assert.Equal(t, "", Fingerprint([]gnet.InterfaceStat{iface("lo", false)}))
}

func TestMonitorDefaults(t *testing.T) {
	m := NewMonitor(0)
	assert.Equal(t, defaultInterval, m.interval)

	m = NewMonitor(time.Second)
	assert.Equal(t, time.Second, m.interval)
	assert.NotNil(t, m.Events())
}
