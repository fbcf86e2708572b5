package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr           string
		MaxUploadBytes int64
	}
	Broker struct {
		Addr string
		// URL is where the publisher reaches the upload broker.
		URL string
	}
	Database struct {
		Path string
	}
	Storage struct {
		Bucket        string
		Region        string
		Endpoint      string
		PublicBaseURL string
		PresignTTL    time.Duration
	}
	AWS struct {
		Profile string
	}
	ATProto struct {
		Service   string
		Namespace string
		Timeout   time.Duration
	}
	Publisher struct {
		GrantTimeout         time.Duration
		UploadFloor          time.Duration
		UploadBytesPerSecond int64
	}
	Feed struct {
		PageSize      int
		SyntheticSize int
		Fallback      string
	}
	Profile struct {
		CacheSize int
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("ATPARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.maxuploadbytes", 25<<20)
	v.SetDefault("broker.addr", "0.0.0.0:8787")
	v.SetDefault("broker.url", "http://127.0.0.1:8787")
	v.SetDefault("database.path", "data/atpark.db")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("storage.presignttl", time.Hour)
	v.SetDefault("aws.profile", "")
	v.SetDefault("atproto.service", "https://bsky.social")
	v.SetDefault("atproto.namespace", "dogpark")
	v.SetDefault("atproto.timeout", 20*time.Second)
	v.SetDefault("publisher.granttimeout", 15*time.Second)
	v.SetDefault("publisher.uploadfloor", 30*time.Second)
	v.SetDefault("publisher.uploadbytespersecond", 256*1024)
	v.SetDefault("feed.pagesize", 50)
	v.SetDefault("feed.syntheticsize", 12)
	v.SetDefault("feed.fallback", "all")
	v.SetDefault("profile.cachesize", 128)
	v.SetDefault("log.level", "info")
}

func (c Config) validate() error {
	switch c.Feed.Fallback {
	case "all", "network":
	default:
		return fmt.Errorf("feed.fallback must be \"all\" or \"network\", got %q", c.Feed.Fallback)
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.pagesize must be positive")
	}
	if c.Publisher.GrantTimeout <= 0 || c.Publisher.UploadFloor <= 0 {
		return fmt.Errorf("publisher timeouts must be positive")
	}
	return nil
}

// loadDotEnv copies KEY=VALUE lines from ./.env into the environment
// without overriding variables that are already set.
func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
