package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend         string   `yaml:"backend" validate:"required,oneof=memory mysql postgres sqlite redis"`
	DSN             string   `yaml:"dsn" validate:"required_if=Backend mysql,required_if=Backend postgres,required_if=Backend sqlite"`
	RedisAddr       string   `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword   string   `yaml:"redis_password"`
	RedisDB         int      `yaml:"redis_db" validate:"gte=0"`
	RedisPrefix     string   `yaml:"redis_prefix"`
	RegistryTable   string   `yaml:"registry_table" validate:"required"`
	JSON            bool     `yaml:"json"`
	Verbose         bool     `yaml:"verbose"`
	DryRun          bool     `yaml:"dry_run"`
	AdminAddr       string   `yaml:"admin_addr" validate:"required"`
	CORSOrigins     []string `yaml:"cors_origins"`
	RetryUnfinished bool     `yaml:"retry_unfinished"`
}

func Default() *Config {
	return &Config{
		Backend:       "memory",
		RegistryTable: "migrations_registry",
		RedisPrefix:   "datamigratex",
		AdminAddr:     ":8089",
	}
}

func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func MergeEnv(cfg *Config) *Config {
	if v := os.Getenv("MIGRATE_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = i
		}
	}
	if v := os.Getenv("REDIS_PREFIX"); v != "" {
		cfg.RedisPrefix = v
	}
	if v := os.Getenv("REGISTRY_TABLE"); v != "" {
		cfg.RegistryTable = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("RETRY_UNFINISHED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RetryUnfinished = b
		}
	}
	return cfg
}

var validate = validator.New()

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
