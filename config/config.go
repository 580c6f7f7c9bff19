package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "change-me-in-production"

type Config struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	InternalAPIKey string   `mapstructure:"internal_api_key"`

	Redis RedisConfig `mapstructure:"redis"`
	Store StoreConfig `mapstructure:"store"`
	ICE   ICEConfig   `mapstructure:"ice"`
	Relay RelayConfig `mapstructure:"relay"`
	Log   LogConfig   `mapstructure:"log"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig selects the collaborator store backend.
type StoreConfig struct {
	Driver        string        `mapstructure:"driver"` // "sqlite" or "mongo"
	SQLitePath    string        `mapstructure:"sqlite_path"`
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ICEConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	STUNURLs []string      `mapstructure:"stun_urls"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RelayConfig tunes the websocket transport and abuse limits.
type RelayConfig struct {
	ReadLimit        int64         `mapstructure:"read_limit"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	MaxConnsPerParty int           `mapstructure:"max_conns_per_party"`
	FrameRate        int           `mapstructure:"frame_rate"`
	FrameWindow      time.Duration `mapstructure:"frame_window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads defaults, an optional YAML file and the environment, in that order.
// When path is empty, config/config.<CONFIG_ENV>.yaml is tried.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.ICE.STUNURLs = splitList(cfg.ICE.STUNURLs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("internal_api_key", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/sessionlink.db")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "therapy")
	v.SetDefault("store.timeout", "5s")

	v.SetDefault("ice.endpoint", "")
	v.SetDefault("ice.token", "")
	v.SetDefault("ice.stun_urls", "stun:stun.l.google.com:19302")
	v.SetDefault("ice.timeout", "3s")
	v.SetDefault("ice.cache_ttl", "5m")

	v.SetDefault("relay.read_limit", 65536)
	v.SetDefault("relay.pong_wait", "60s")
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.write_wait", "10s")
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.max_conns_per_party", 5)
	v.SetDefault("relay.frame_rate", 200)
	v.SetDefault("relay.frame_window", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.IsProduction() && c.JWTSecret == defaultJWTSecret {
		return errors.New("jwt_secret must be changed in production")
	}
	switch c.Store.Driver {
	case "sqlite", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Relay.PingPeriod >= c.Relay.PongWait {
		return fmt.Errorf("relay.ping_period (%s) must be shorter than relay.pong_wait (%s)",
			c.Relay.PingPeriod, c.Relay.PongWait)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// splitList flattens entries that arrived as one comma-separated string (env vars).
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
