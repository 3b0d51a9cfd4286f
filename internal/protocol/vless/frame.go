// Package vless implements the proxy-protocol handshake byte layout.
//
// Request header:
//
//	1  version (0)
//	16 client identifier (UUID)
//	1  add-on length (0 today)
//	1  command (TCP / UDP / MUX)
//	2  target port, big endian
//	1  address type tag
//	n  address (IPv4: 4 raw bytes; domain: 1-byte length + UTF-8)
//
// Response header: 1 version byte (must match the request version) followed
// by 1 add-on length byte and that many add-on bytes, which are skipped.
// Data after the headers passes through unmodified.
//
// Everything here is a pure function of its inputs; adapters hold no framing
// state, so the layout stays independently testable and leaves room for a
// flow-control variant to wrap payload bytes later.
package vless

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
)

const Version byte = 0

type Command byte

const (
	CommandTCP Command = 1
	CommandUDP Command = 2
	CommandMux Command = 3
)

func (c Command) Valid() bool {
	return c == CommandTCP || c == CommandUDP || c == CommandMux
}

const (
	addrTypeIPv4   byte = 1
	addrTypeDomain byte = 2
	addrTypeIPv6   byte = 3
)

// ErrIPv6Unsupported is returned for IPv6 targets rather than emitting a
// layout we do not implement.
var ErrIPv6Unsupported = errors.New("vless: ipv6 targets are not supported")

// Request is one decoded request header.
type Request struct {
	ID      uuid.UUID
	Command Command
	Host    string // dotted IPv4 or domain name
	Port    uint16
}

// EncodeRequest builds the request header for a target host and port. Host
// may be a dotted IPv4 literal or a domain name; IPv6 literals return
// ErrIPv6Unsupported.
func EncodeRequest(id uuid.UUID, cmd Command, host string, port uint16) ([]byte, error) {
	if !cmd.Valid() {
		return nil, fmt.Errorf("vless: invalid command %d", cmd)
	}
	if host == "" {
		return nil, errors.New("vless: empty target host")
	}

	buf := make([]byte, 0, 1+16+1+1+2+1+len(host)+1)
	buf = append(buf, Version)
	buf = append(buf, id[:]...)
	buf = append(buf, 0) // add-on length
	buf = append(buf, byte(cmd))
	buf = binary.BigEndian.AppendUint16(buf, port)

	if ip := net.ParseIP(host); ip != nil {
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, ErrIPv6Unsupported
		}
		buf = append(buf, addrTypeIPv4)
		buf = append(buf, ip4...)
		return buf, nil
	}

	if len(host) > 255 {
		return nil, fmt.Errorf("vless: domain %q longer than 255 bytes", host)
	}
	buf = append(buf, addrTypeDomain, byte(len(host)))
	buf = append(buf, host...)
	return buf, nil
}

// DecodeRequest parses a request header from r. It is the inverse of
// EncodeRequest for every layout EncodeRequest can produce.
func DecodeRequest(r io.Reader) (*Request, error) {
	var fixed [21]byte // version + id + addon len + command + port
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("vless: short request header: %w", err)
	}
	if fixed[0] != Version {
		return nil, fmt.Errorf("vless: unexpected request version %d", fixed[0])
	}

	req := &Request{}
	copy(req.ID[:], fixed[1:17])

	if addonLen := fixed[17]; addonLen > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(addonLen)); err != nil {
			return nil, fmt.Errorf("vless: short add-on section: %w", err)
		}
	}

	req.Command = Command(fixed[18])
	if !req.Command.Valid() {
		return nil, fmt.Errorf("vless: invalid command %d", fixed[18])
	}
	req.Port = binary.BigEndian.Uint16(fixed[19:21])

	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, fmt.Errorf("vless: missing address tag: %w", err)
	}
	switch tag[0] {
	case addrTypeIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return nil, fmt.Errorf("vless: short ipv4 address: %w", err)
		}
		req.Host = net.IP(ip[:]).String()
	case addrTypeDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, fmt.Errorf("vless: missing domain length: %w", err)
		}
		domain := make([]byte, n[0])
		if _, err := io.ReadFull(r, domain); err != nil {
			return nil, fmt.Errorf("vless: short domain: %w", err)
		}
		req.Host = string(domain)
	case addrTypeIPv6:
		return nil, ErrIPv6Unsupported
	default:
		return nil, fmt.Errorf("vless: unknown address tag %d", tag[0])
	}

	return req, nil
}

// DecodeResponse reads and validates the response header, skipping any
// add-on bytes, and leaves r positioned at the payload.
func DecodeResponse(r io.Reader) error {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("vless: short response header: %w", err)
	}
	if hdr[0] != Version {
		return fmt.Errorf("vless: server answered with protocol version %d, want %d", hdr[0], Version)
	}
	if hdr[1] > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(hdr[1])); err != nil {
			return fmt.Errorf("vless: short response add-on section: %w", err)
		}
	}
	return nil
}

// EncodeResponse builds the minimal server response header. Servers in this
// repo exist only in tests, but keeping the encoder beside the decoder keeps
// the layout in one place.
func EncodeResponse() []byte {
	return []byte{Version, 0}
}
