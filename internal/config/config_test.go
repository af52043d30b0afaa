package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
business:
  delivery_weekdays: "1,3,5"
  low_balance_threshold: 1
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "1,3,5", cfg.Business.DeliveryWeekdays)
	assert.Equal(t, int64(1), cfg.Business.LowBalanceThreshold)
	assert.Equal(t, 90, cfg.Business.ScheduleHorizonDays)
	assert.Equal(t, "payment-event", cfg.Kafka.Topic.PaymentEvent)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600))
	t.Setenv("MEALSUB_SERVER_PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestBusinessConfig_Location(t *testing.T) {
	assert.Equal(t, time.UTC, BusinessConfig{}.Location())
	assert.Equal(t, time.UTC, BusinessConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "Asia/Seoul", Default().Business.Location().String())
}
