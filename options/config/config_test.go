package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, message.SZX1024, c.SZX())
	require.Equal(t, "1KiB", c.BlockSize.String())
	require.Equal(t, 4, c.MaxRetransmit)
	require.Equal(t, 247*time.Second, c.ExchangeLifetime)
}

func TestValidate(t *testing.T) {
	c := Default()
	c.BlockSize = 100
	c.AckRandomFactor = 0.5
	c.TaskQueueSize = 0
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "blockSize")
	require.Contains(t, err.Error(), "ackRandomFactor")
	require.Contains(t, err.Error(), "taskQueueSize")

	c = Default()
	c.BlockSize = 2048
	require.Error(t, c.Validate())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("COAP_BLOCK_SIZE", "256B")
	t.Setenv("COAP_ACK_TIMEOUT", "500ms")
	t.Setenv("COAP_MAX_RETRANSMIT", "2")
	t.Setenv("COAP_STRICT_OPTIONS", "true")
	c, err := FromEnv("COAP_")
	require.NoError(t, err)
	require.Equal(t, message.SZX256, c.SZX())
	require.Equal(t, 500*time.Millisecond, c.AckTimeout)
	require.Equal(t, 2, c.MaxRetransmit)
	require.True(t, c.StrictOptions)
	require.Equal(t, Default().MaxBodySize, c.MaxBodySize)
}

func TestFromEnvInvalid(t *testing.T) {
	t.Setenv("COAP_BLOCK_SIZE", "lots")
	_, err := FromEnv("COAP_")
	require.Error(t, err)
}

func TestFromYAML(t *testing.T) {
	c, err := FromYAML(strings.NewReader(`
blockSize: 64B
maxBodySize: 1MiB
ackTimeout: 3s
ackRandomFactor: 2
`))
	require.NoError(t, err)
	require.Equal(t, message.SZX64, c.SZX())
	require.Equal(t, ByteSize(1<<20), c.MaxBodySize)
	require.Equal(t, 3*time.Second, c.AckTimeout)
	require.Equal(t, 2.0, c.AckRandomFactor)

	c, err = FromYAML(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), c)

	_, err = FromYAML(strings.NewReader("maxRetransmit: -1"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blockSize: 512B\nmaxRetransmit: 1\n"), 0o600))
	t.Setenv("TEST_MAX_RETRANSMIT", "3")
	c, err := Load(path, "TEST_")
	require.NoError(t, err)
	require.Equal(t, message.SZX512, c.SZX())
	require.Equal(t, 3, c.MaxRetransmit)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), "TEST_")
	require.Error(t, err)
}
