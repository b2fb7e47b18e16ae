//go:build e2e

package e2e

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero804/kup/internal/models"
	"github.com/zero804/kup/internal/services/wol"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockWOLClient does not send packets.
type mockWOLClient struct{}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	return nil
}

func TestWOL_DelayedDestination_E2E(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "mnt", "kup")

	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = os.MkdirAll(dest, 0o750)
	}()

	svc := wol.NewWithClients(testLogger(), &mockWOLClient{}, afero.NewOsFs())

	cfg := models.WOLConfig{
		MACAddress:    "AA:BB:CC:DD:EE:FF",
		BroadcastIP:   "255.255.255.255",
		Timeout:       5 * time.Second,
		PollInterval:  50 * time.Millisecond,
		StabilizeWait: 50 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg, dest)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.DestinationReady)
	assert.Nil(t, result.Error)
	assert.GreaterOrEqual(t, result.WaitDuration, 150*time.Millisecond)
}

// TestRealWOL_E2E sends a real magic packet; only run if explicitly configured.
func TestRealWOL_E2E(t *testing.T) {
	mac := os.Getenv("TEST_WOL_MAC")
	if mac == "" {
		t.Skip("TEST_WOL_MAC not set")
	}

	dest := os.Getenv("TEST_WOL_DESTINATION")

	svc := wol.New(testLogger())

	cfg := models.WOLConfig{
		MACAddress:    mac,
		BroadcastIP:   "255.255.255.255",
		Timeout:       5 * time.Minute,
		PollInterval:  10 * time.Second,
		StabilizeWait: 10 * time.Second,
	}

	result, err := svc.Wake(context.Background(), cfg, dest)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.DestinationReady)
}
