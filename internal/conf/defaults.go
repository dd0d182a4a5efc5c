// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "SeaWatch-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/seawatch.log")
	viper.SetDefault("main.log.maxsize", 10)
	viper.SetDefault("main.log.maxage", 30)
	viper.SetDefault("main.log.maxfiles", 5)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8090")
	viper.SetDefault("webserver.debug", false)

	viper.SetDefault("hub.queuesize", 64)
	viper.SetDefault("hub.heartbeatinterval", 30*time.Second)
	viper.SetDefault("hub.writetimeout", 10*time.Second)

	viper.SetDefault("replay.idletimeout", 30*time.Minute)
	viper.SetDefault("replay.defaultspeed", 1.0)

	viper.SetDefault("enrichment.provider", "oceanlife")
	viper.SetDefault("enrichment.endpoint", "https://api.oceanlife.org/v1")
	viper.SetDefault("enrichment.imagelimit", 3)
	viper.SetDefault("enrichment.searchtimeout", 10*time.Second)
	viper.SetDefault("enrichment.successttl", time.Hour)
	viper.SetDefault("enrichment.emptyttl", 5*time.Minute)
	viper.SetDefault("enrichment.failurettl", 90*time.Second)
	viper.SetDefault("enrichment.requestspersec", 2.0)
	viper.SetDefault("enrichment.debug", false)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "seawatch/alerts")
	viper.SetDefault("mqtt.maxreconnecttries", 5)
	viper.SetDefault("mqtt.reconnectdelay", time.Second)

	viper.SetDefault("liveclient.maxreconnecttries", 10)
	viper.SetDefault("liveclient.initialbackoff", time.Second)
	viper.SetDefault("liveclient.maxbackoff", time.Minute)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "seawatch.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "seawatch")
	viper.SetDefault("output.mysql.password", "seawatch")
	viper.SetDefault("output.mysql.database", "seawatch")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
