package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the relay's environment-driven configuration. DatabaseURL is
// only consulted when HistoryBackend is "postgres"; MongoURI when it is
// "mongo". With HistoryBackend "none" the relay keeps no message history.
type Config struct {
	ServerAddr     string `envconfig:"SERVER_ADDR" default:"localhost:9090"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	MongoURI       string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase  string `envconfig:"MONGO_DATABASE" default:"securechat"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:""`
	HistoryBackend string `envconfig:"HISTORY_BACKEND" default:"mongo"`
	OfflineQueue   bool   `envconfig:"OFFLINE_QUEUE" default:"true"`
	JWTSecret      string `envconfig:"JWT_SECRET" required:"true"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
