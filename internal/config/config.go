package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration acepta tanto "15m" como nanosegundos enteros en YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std convierte al time.Duration estándar.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Issuer string `yaml:"issuer"`

	Storage struct {
		Driver string `yaml:"driver"` // memory | postgres
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Tokens struct {
		AccessTTL  Duration `yaml:"access_ttl"`
		RefreshTTL Duration `yaml:"refresh_ttl"`
		CodeTTL    Duration `yaml:"code_ttl"`
		MFATTL     Duration `yaml:"mfa_ttl"`
		ResetTTL   Duration `yaml:"reset_ttl"`
		OOBTTL     Duration `yaml:"oob_ttl"`
	} `yaml:"tokens"`

	Lockout struct {
		MaxAttempts int      `yaml:"max_attempts"`
		Window      Duration `yaml:"window"`
	} `yaml:"lockout"`

	MFA struct {
		TOTPIssuer string `yaml:"totp_issuer"`
		TOTPWindow int    `yaml:"totp_window"`
	} `yaml:"mfa"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		From               string `yaml:"from"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"` // sólo dev
	} `yaml:"smtp"`
}

// Load lee YAML (path opcional), aplica defaults y overrides por env.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Issuer == "" {
		c.Issuer = "http://localhost:8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Tokens.AccessTTL == 0 {
		c.Tokens.AccessTTL = Duration(15 * time.Minute)
	}
	if c.Tokens.RefreshTTL == 0 {
		c.Tokens.RefreshTTL = Duration(720 * time.Hour)
	}
	if c.Tokens.CodeTTL == 0 {
		c.Tokens.CodeTTL = Duration(5 * time.Minute)
	}
	if c.Tokens.MFATTL == 0 {
		c.Tokens.MFATTL = Duration(5 * time.Minute)
	}
	if c.Tokens.ResetTTL == 0 {
		c.Tokens.ResetTTL = Duration(time.Hour)
	}
	if c.Tokens.OOBTTL == 0 {
		c.Tokens.OOBTTL = Duration(5 * time.Minute)
	}
	if c.Lockout.MaxAttempts == 0 {
		c.Lockout.MaxAttempts = 5
	}
	if c.Lockout.Window == 0 {
		c.Lockout.Window = Duration(15 * time.Minute)
	}
	if c.MFA.TOTPIssuer == "" {
		c.MFA.TOTPIssuer = "Veridian"
	}
	if c.MFA.TOTPWindow == 0 {
		c.MFA.TOTPWindow = 1
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VERIDIAN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("VERIDIAN_ISSUER"); v != "" {
		c.Issuer = v
	}
	if v := os.Getenv("VERIDIAN_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("VERIDIAN_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("VERIDIAN_CACHE_KIND"); v != "" {
		c.Cache.Kind = v
	}
	if v := os.Getenv("VERIDIAN_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("VERIDIAN_LOCKOUT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Lockout.MaxAttempts = n
		}
	}
	if v := os.Getenv("VERIDIAN_SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("VERIDIAN_SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = n
		}
	}
}
