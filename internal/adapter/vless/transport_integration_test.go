package vless

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"

	"gatelink/internal/models"
	"gatelink/pkg/testhelper"
)

// TestDialThroughUpstreamSOCKS runs a real SOCKS5 proxy in Docker and
// establishes a connection through it.
func TestDialThroughUpstreamSOCKS(t *testing.T) {
	if !testhelper.IsIntegration() {
		t.Skip("set TEST_INTEGRATION=true to run Docker-backed tests")
	}

	pool := testhelper.StartDockerPool()
	resource := testhelper.StartDockerInstance(pool, "serjs/go-socks5-proxy", "latest",
		func(res *dockertest.Resource) error {
			conn, err := net.Dial("tcp", "127.0.0.1:"+res.GetPort("1080/tcp"))
			if err != nil {
				return err
			}
			return conn.Close()
		})
	defer pool.Purge(resource)

	proxyAddr := "127.0.0.1:" + resource.GetPort("1080/tcp")
	dialer, err := NewDialer(&models.VLESSConfig{
		Transport:     "tcp",
		UpstreamSOCKS: proxyAddr,
	}, "127.0.0.1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The connect target is resolved by the proxy; its own listening port
	// is the one address guaranteed reachable from inside the container.
	conn, err := dialer.Dial(ctx, "127.0.0.1:1080")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}
