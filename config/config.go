package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Game     GameConfig     `mapstructure:"game"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MonitorAddress string `mapstructure:"monitor_address"`
}

type DatabaseConfig struct {
	// Driver selects the persistence implementation: "gorm" or "raw".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type MQTTConfig struct {
	BrokerHost     string `mapstructure:"broker_host"`
	BrokerPort     int    `mapstructure:"broker_port"`
	ClientID       string `mapstructure:"client_id"`
	TopicPrefix    string `mapstructure:"topic_prefix"`
	PublishTimeout int    `mapstructure:"publish_timeout_ms"`
}

type GameConfig struct {
	// Rooms is the fixed room set of the installation. Every completion
	// state carries exactly these keys for its whole lifetime.
	Rooms          []string `mapstructure:"rooms"`
	LockTTLSeconds int      `mapstructure:"lock_ttl_seconds"`
}

func (g GameConfig) LockTTL() time.Duration {
	return time.Duration(g.LockTTLSeconds) * time.Second
}

func (m MQTTConfig) Timeout() time.Duration {
	return time.Duration(m.PublishTimeout) * time.Millisecond
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("database.driver", "gorm")
	viper.SetDefault("mqtt.client_id", "escapehub-backend")
	viper.SetDefault("mqtt.topic_prefix", "escape")
	viper.SetDefault("mqtt.publish_timeout_ms", 2000)
	viper.SetDefault("game.rooms", []string{"kitchen", "bedroom", "bathroom", "livingroom"})
	viper.SetDefault("game.lock_ttl_seconds", 30)

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
