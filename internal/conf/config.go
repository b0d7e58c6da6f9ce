// conf/config.go

package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/arstream/internal/errors"
)

// EnvPrefix is prepended to environment overrides, e.g. ARSTREAM_TIMELINE_POOLCAPACITY
const EnvPrefix = "ARSTREAM"

// LogSettings contains logging configuration
type LogSettings struct {
	Level      string `yaml:"level"`      // trace, debug, info, warn, error
	File       string `yaml:"file"`       // optional JSON log file, rotated with lumberjack
	MaxSizeMB  int    `yaml:"maxsizemb"`  // rotate after this many megabytes
	MaxBackups int    `yaml:"maxbackups"` // rotated files kept
	MaxAgeDays int    `yaml:"maxagedays"` // days to keep rotated files
}

// TimelineSettings contains the store geometry shared by simulated streams
type TimelineSettings struct {
	PoolCapacity int `yaml:"poolcapacity"` // resident buffers per store
	MaxElements  int `yaml:"maxelements"`  // elements per buffer
	ElementSize  int `yaml:"elementsize"`  // bytes per raw element
	GrowthLimit  int `yaml:"growthlimit"`  // extra slots a saturated pool may allocate
	NotifyQueue  int `yaml:"notifyqueue"`  // per-subscriber notification mailbox size
}

// SyncSettings contains synchronizer configuration
type SyncSettings struct {
	Interval  time.Duration      `yaml:"interval"`  // time between cycles
	Tolerance float64            `yaml:"tolerance"` // ms, 0 disables
	Mode      string             `yaml:"mode"`      // previous, next or nearest
	Delays    map[string]float64 `yaml:"delays"`    // per stream lookup delay in ms
}

// FrameSettings describes simulated camera frames
type FrameSettings struct {
	Enabled    bool `yaml:"enabled"`
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Components int  `yaml:"components"`
}

// SimulateSettings contains parameters of the simulate command
type SimulateSettings struct {
	Streams   int           `yaml:"streams"`   // marker streams
	Markers   int           `yaml:"markers"`   // markers per stream buffer
	Rate      float64       `yaml:"rate"`      // buffers per second per stream
	Duration  time.Duration `yaml:"duration"`  // 0 runs until interrupted
	Consumers int           `yaml:"consumers"` // consumer goroutines per stream
	Jitter    float64       `yaml:"jitter"`    // ms of timestamp jitter between streams
	DropRate  float64       `yaml:"droprate"`  // probability a marker is missing from a buffer
	Frame     FrameSettings `yaml:"frame"`
}

// MetricsSettings contains Prometheus endpoint configuration
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTSettings contains the notification bridge configuration
type MQTTSettings struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"clientid"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topicprefix"`
	QoS         byte          `yaml:"qos"`
	Retain      bool          `yaml:"retain"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Settings contains all configuration options
type Settings struct {
	Debug    bool             `yaml:"debug"`
	Log      LogSettings      `yaml:"log"`
	Timeline TimelineSettings `yaml:"timeline"`
	Sync     SyncSettings     `yaml:"sync"`
	Simulate SimulateSettings `yaml:"simulate"`
	Metrics  MetricsSettings  `yaml:"metrics"`
	MQTT     MQTTSettings     `yaml:"mqtt"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the configuration file and environment variables.
// configFile may be empty to search the default paths; a missing file is not an error.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults and environment bindings and reads the config file
func initViper(configFile string) error {
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "read-config").
			Context("file", configFile).
			Build()
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(homeDir, "AppData", "Roaming", "arstream"))
		} else {
			paths = append(paths, filepath.Join(homeDir, ".config", "arstream"))
		}
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/arstream")
	}
	return paths
}

// Setting returns the current settings, loading defaults on first use
func Setting() *Settings {
	settingsMutex.RLock()
	s := settingsInstance
	settingsMutex.RUnlock()
	if s != nil {
		return s
	}

	s, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("error loading settings: %v", err))
	}
	return s
}

// Dump renders settings as YAML
func Dump(settings *Settings) ([]byte, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "marshal-yaml").
			Build()
	}
	return data, nil
}

// SaveYAMLConfig writes settings to configPath, creating parent directories
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := Dump(settings)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Build()
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "write-config").
			Build()
	}
	return nil
}
