package vless

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatelink/internal/models"
	"gatelink/internal/vpnerror"
)

func TestNewDialerDefaultsToTCP(t *testing.T) {
	for _, transport := range []string{"", "tcp"} {
		d, err := NewDialer(&models.VLESSConfig{Transport: transport}, "example.com")
		require.NoError(t, err)
		assert.IsType(t, &tcpDialer{}, d)
	}
}

func TestNewDialerTLS(t *testing.T) {
	d, err := NewDialer(&models.VLESSConfig{Transport: "tls"}, "example.com")
	require.NoError(t, err)

	td, ok := d.(*tlsDialer)
	require.True(t, ok)
	assert.Equal(t, "example.com", td.config.ServerName, "SNI falls back to the profile host")
	assert.False(t, td.config.InsecureSkipVerify)

	d, err = NewDialer(&models.VLESSConfig{
		Transport:     "tls",
		SNI:           "front.example.net",
		AllowInsecure: true,
	}, "example.com")
	require.NoError(t, err)
	td = d.(*tlsDialer)
	assert.Equal(t, "front.example.net", td.config.ServerName)
	assert.True(t, td.config.InsecureSkipVerify)
}

func TestNewDialerUnknownTransport(t *testing.T) {
	_, err := NewDialer(&models.VLESSConfig{Transport: "quic"}, "example.com")
	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindVlessTransport, ve.Kind)
}

func TestNewDialerUnknownObfuscation(t *testing.T) {
	for _, mode := range []string{"", "none"} {
		_, err := NewDialer(&models.VLESSConfig{Transport: "tcp", Obfuscation: mode}, "example.com")
		assert.NoError(t, err)
	}

	_, err := NewDialer(&models.VLESSConfig{Transport: "tcp", Obfuscation: "scramble"}, "example.com")
	var ve *vpnerror.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vpnerror.KindVlessObfuscation, ve.Kind)
}

func TestNewDialerUpstreamSOCKS(t *testing.T) {
	d, err := NewDialer(&models.VLESSConfig{
		Transport:     "tcp",
		UpstreamSOCKS: "127.0.0.1:1080",
	}, "example.com")
	require.NoError(t, err)
	require.IsType(t, &tcpDialer{}, d)
}

func TestTCPDialerDialsThrough(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d, err := NewDialer(&models.VLESSConfig{Transport: "tcp"}, "127.0.0.1")
	require.NoError(t, err)

	conn, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}
