package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nightwatchman/internal/config"
)

// TestFlagDefaults verifies the defaults operators rely on.
func TestFlagDefaults(t *testing.T) {
	assert.Empty(t, *source, "the frame source must be chosen explicitly")
	assert.Equal(t, 115200, *baud)
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, ":50051", *grpcListen)
	assert.Empty(t, *mqttBroker, "MQTT is opt-in")
	assert.Empty(t, *redisAddr, "Redis is opt-in")
	assert.Equal(t, "home/nightwatchman", *mqttPrefix)
	assert.Equal(t, 30*time.Second, *statsEvery)
}

func TestCheckSource(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, checkSource(""), errNoSource)
	for _, src := range []string{"mock", "-", "/dev/ttyUSB0", "frames.jsonl"} {
		assert.NoError(t, checkSource(src), src)
	}
}

func TestLoadTuning(t *testing.T) {
	t.Parallel()

	tc, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTuningConfig(), tc)

	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"persistence_duration":"8s"}`), 0o644))
	tc, err = loadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, tc.GetPersistenceDuration())

	_, err = loadTuning(filepath.Join(t.TempDir(), "tuning.yaml"))
	assert.Error(t, err)
}
