// Package tun is the virtual-network-interface service contract. The
// connection core only establishes, configures, and tears down; what flows
// through the interface is somebody else's job.
package tun

import "context"

// Config describes the interface to bring up.
type Config struct {
	DeviceName string
	Address    string // CIDR, e.g. 10.8.0.2/24
	Gateway    string
	MTU        int
}

// Service is the establish/configure/teardown contract.
type Service interface {
	Establish(ctx context.Context, name string) error
	Configure(ctx context.Context, address, gateway string, mtu int) error
	Teardown(ctx context.Context) error
}
