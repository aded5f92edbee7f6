package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxUploadBytes is 220 MiB, large enough for bundled XAPKs.
const DefaultMaxUploadBytes = 220 << 20

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	// Mode "development" exposes raw stage errors to callers; anything else
	// redacts them.
	Mode string `yaml:"mode"`

	Upload struct {
		MaxBytes int64  `yaml:"maxBytes"`
		Dir      string `yaml:"dir"`
	} `yaml:"upload"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	RateLimit struct {
		Requests      int `yaml:"requests"`
		WindowSeconds int `yaml:"windowSeconds"`
	} `yaml:"rateLimit"`

	ThreatFeed string `yaml:"threatFeed"`

	ML struct {
		Enabled bool   `yaml:"enabled"`
		APIKey  string `yaml:"apiKey"`
		Model   string `yaml:"model"`
	} `yaml:"ml"`

	Vault struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"vault"`
}

// Load reads the yaml file at path (missing file is fine, defaults apply)
// and then applies environment overrides. Env wins so container deployments
// need no config file at all.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only setup
	default:
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Upload.MaxBytes = n
		}
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		c.Upload.Dir = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.CORS.AllowedOrigins = origins
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Requests = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.WindowSeconds = n
		}
	}
	if v := os.Getenv("THREAT_FEED"); v != "" {
		c.ThreatFeed = v
	}
	if v := os.Getenv("ML_ENABLED"); v != "" {
		c.ML.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.ML.APIKey = v
	}
	if v := os.Getenv("ML_MODEL"); v != "" {
		c.ML.Model = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Mode == "" {
		c.Mode = "production"
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = "./temp/uploads"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 10
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
}

// Development reports whether raw analyzer errors may be shown to callers.
func (c *Config) Development() bool {
	return c.Mode == "development"
}
