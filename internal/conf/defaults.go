// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.maxsizemb", 100)
	viper.SetDefault("log.maxbackups", 3)
	viper.SetDefault("log.maxagedays", 28)

	viper.SetDefault("timeline.poolcapacity", 32)
	viper.SetDefault("timeline.maxelements", 8)
	viper.SetDefault("timeline.elementsize", 32)
	viper.SetDefault("timeline.growthlimit", 0)
	viper.SetDefault("timeline.notifyqueue", 64)

	viper.SetDefault("sync.interval", 20*time.Millisecond)
	viper.SetDefault("sync.tolerance", 0.0)
	viper.SetDefault("sync.mode", "nearest")
	viper.SetDefault("sync.delays", map[string]float64{})

	viper.SetDefault("simulate.streams", 2)
	viper.SetDefault("simulate.markers", 4)
	viper.SetDefault("simulate.rate", 30.0)
	viper.SetDefault("simulate.duration", 10*time.Second)
	viper.SetDefault("simulate.consumers", 2)
	viper.SetDefault("simulate.jitter", 5.0)
	viper.SetDefault("simulate.droprate", 0.1)
	viper.SetDefault("simulate.frame.enabled", true)
	viper.SetDefault("simulate.frame.width", 64)
	viper.SetDefault("simulate.frame.height", 48)
	viper.SetDefault("simulate.frame.components", 3)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.listen", "127.0.0.1:9090")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "arstream")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.topicprefix", "arstream")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.timeout", 5*time.Second)
}
