package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	defaultVersionMaxKeep = 100
	defaultMessageMaxKeep = 100
	defaultRateLimitMS    = 500
	defaultAITimeout      = 30

	DefaultInitialContent = "# Welcome to Lava\n\nStart collaborating by chatting on the left. Use @lava followed by instructions to update this document.\n\nFor example: \"@lava add a section about getting started\""
)

type Config struct {
	Port           int              `json:"port"`
	Store          StoreConfig      `json:"store"`
	VersionMaxKeep int              `json:"version_max_keep"`
	MessageMaxKeep int              `json:"message_max_keep"`
	InitialContent string           `json:"initial_content"`
	AI             AIConfig         `json:"ai"`
	Archive        FileStoreConfig  `json:"archive"`
	Jobs           JobsConfig       `json:"jobs"`
	RateLimitMS    int              `json:"rate_limit_ms"`
	CORSOrigins    []string         `json:"cors_origins"`
	LogConfig      logger.LogConfig `json:"log_config"`
}

type StoreConfig struct {
	Type     string         `json:"type"`
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
}

type RedisConfig struct {
	Addr   string `json:"addr"`
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
}

// ConnURL returns the redis url, building one from Addr when URL is unset.
func (c RedisConfig) ConnURL() string {
	if c.URL != "" {
		return c.URL
	}
	return "redis://" + c.Addr
}

type PostgresConfig struct {
	DSN          string `json:"dsn"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"dbname"`
	SSLMode      string `json:"sslmode"`
	MaxOpenConns int    `json:"max_open_conns"`
}

type AIConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Timeout  int         `json:"timeout"`
	Data     interface{} `json:"data"`
}

func (c AIConfig) Enabled() bool {
	return strings.TrimSpace(c.Provider) != ""
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (c FileStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Type) != ""
}

// JobsConfig holds cron specs; an empty spec disables the job.
type JobsConfig struct {
	Retention   string `json:"retention"`
	MessageTrim string `json:"message_trim"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	c.Store.Type = strings.ToLower(strings.TrimSpace(c.Store.Type))
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.URL == "" && c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis url or addr is required for redis store")
		}
	case StorePostgres:
		pg := c.Store.Postgres
		if pg.DSN == "" && (pg.Host == "" || pg.DBName == "") {
			return fmt.Errorf("store.postgres dsn or host/dbname are required for postgres store")
		}
		if c.Store.Postgres.Port == 0 {
			c.Store.Postgres.Port = 5432
		}
	default:
		return fmt.Errorf("store.type must be memory, redis or postgres")
	}
	switch {
	case c.VersionMaxKeep == 0:
		c.VersionMaxKeep = defaultVersionMaxKeep
	case c.VersionMaxKeep < -1:
		return fmt.Errorf("version_max_keep must be positive or -1")
	}
	if c.MessageMaxKeep <= 0 {
		c.MessageMaxKeep = defaultMessageMaxKeep
	}
	if c.InitialContent == "" {
		c.InitialContent = DefaultInitialContent
	}
	if c.RateLimitMS == 0 {
		c.RateLimitMS = defaultRateLimitMS
	}
	if c.AI.Enabled() && c.AI.Timeout <= 0 {
		c.AI.Timeout = defaultAITimeout
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	return nil
}

// VersionKeep is the retention bound handed to stores; 0 means unbounded.
func (c *Config) VersionKeep() int {
	if c.VersionMaxKeep < 0 {
		return 0
	}
	return c.VersionMaxKeep
}
