package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/arstream/internal/errors"
)

func loadFresh(t *testing.T, file string) (*Settings, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return Load(file)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	s, err := loadFresh(t, "")
	require.NoError(t, err)

	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, 32, s.Timeline.PoolCapacity)
	assert.Equal(t, 8, s.Timeline.MaxElements)
	assert.Equal(t, 20*time.Millisecond, s.Sync.Interval)
	assert.Equal(t, "nearest", s.Sync.Mode)
	assert.Equal(t, 2, s.Simulate.Streams)
	assert.False(t, s.MQTT.Enabled)
	assert.Equal(t, 5*time.Second, s.MQTT.Timeout)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeline:
  poolcapacity: 4
  maxelements: 6
sync:
  interval: 50ms
  mode: previous
  delays:
    cam: 12.5
simulate:
  markers: 6
`), 0o600))
	t.Setenv("ARSTREAM_LOG_LEVEL", "debug")

	s, err := loadFresh(t, path)
	require.NoError(t, err)

	assert.Equal(t, 4, s.Timeline.PoolCapacity)
	assert.Equal(t, 6, s.Timeline.MaxElements)
	assert.Equal(t, 50*time.Millisecond, s.Sync.Interval)
	assert.Equal(t, "previous", s.Sync.Mode)
	assert.InDelta(t, 12.5, s.Sync.Delays["cam"], 1e-9)
	assert.Equal(t, "debug", s.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := loadFresh(t, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeline:
  poolcapacity: 0
sync:
  mode: sideways
`), 0o600))

	_, err := loadFresh(t, path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "timeline.poolcapacity")
	assert.Contains(t, err.Error(), "sync.mode")
}

func validSettings() *Settings {
	return &Settings{
		Log:      LogSettings{Level: "info"},
		Timeline: TimelineSettings{PoolCapacity: 8, MaxElements: 4, ElementSize: 32, NotifyQueue: 16},
		Sync:     SyncSettings{Interval: time.Millisecond, Mode: "nearest"},
		Simulate: SimulateSettings{Streams: 1, Markers: 4, Rate: 10},
		Metrics:  MetricsSettings{Listen: "127.0.0.1:0"},
		MQTT:     MQTTSettings{Broker: "tcp://localhost:1883", TopicPrefix: "arstream", Timeout: time.Second},
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"unknown log level", func(s *Settings) { s.Log.Level = "loud" }, "log.level"},
		{"negative growth", func(s *Settings) { s.Timeline.GrowthLimit = -1 }, "growthlimit"},
		{"negative tolerance", func(s *Settings) { s.Sync.Tolerance = -1 }, "sync.tolerance"},
		{"negative delay", func(s *Settings) { s.Sync.Delays = map[string]float64{"a": -2} }, "sync.delays.a"},
		{"too many markers", func(s *Settings) { s.Simulate.Markers = 5 }, "simulate.markers"},
		{"bad drop rate", func(s *Settings) { s.Simulate.DropRate = 1 }, "droprate"},
		{"bad metrics listen", func(s *Settings) {
			s.Metrics.Enabled = true
			s.Metrics.Listen = "nope"
		}, "metrics.listen"},
		{"bad broker scheme", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.Broker = "http://localhost:1883"
		}, "scheme"},
		{"bad qos", func(s *Settings) {
			s.MQTT.Enabled = true
			s.MQTT.QoS = 3
		}, "mqtt.qos"},
		{"mqtt disabled ignores broker", func(s *Settings) { s.MQTT.Broker = "::" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDumpRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := validSettings()
	want.Sync.Delays = map[string]float64{"cam": 3}
	require.NoError(t, SaveYAMLConfig(path, want))

	got, err := loadFresh(t, path)
	require.NoError(t, err)
	assert.Equal(t, want.Timeline, got.Timeline)
	assert.Equal(t, want.Sync.Interval, got.Sync.Interval)
	assert.InDelta(t, 3.0, got.Sync.Delays["cam"], 1e-9)
}
