package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"PPresence/service/gateway"
	"PPresence/service/natsx"
	"PPresence/service/notification"
	"PPresence/tools/security"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PRESENCE_"

// notification store kinds
const (
	StoreMemory = ""
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

type AppConfig struct {
	NodeID       int64              `yaml:"node_id"` // snowflake 节点ID
	HTTP         HTTPConfig         `yaml:"http"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	JWT          JWTConfig          `yaml:"jwt"`
	Reaper       ReaperConfig       `yaml:"reaper"`
	NATS         natsx.Config       `yaml:"nats"`
	Notification NotificationConfig `yaml:"notification"`
	Log          LogConfig          `yaml:"log"`
	InternalKey  string             `yaml:"internal_key"` // 为空则 /internal 不校验
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GatewayConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongWait         time.Duration `yaml:"pong_wait"`
	WriteWait        time.Duration `yaml:"write_wait"`
	SendQueueSize    int           `yaml:"send_queue_size"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
}

type JWTConfig struct {
	Secret      string        `yaml:"secret"`
	Alg         string        `yaml:"alg"`
	TTL         time.Duration `yaml:"ttl"`
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	Leeway      time.Duration `yaml:"leeway"`
	JWKSURL     string        `yaml:"jwks_url"`
	JWKSRefresh time.Duration `yaml:"jwks_refresh"`
}

type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
	Disabled bool          `yaml:"disabled"`
}

type NotificationConfig struct {
	Store string                   `yaml:"store"` // redis | mongo | 空（进程内）
	Redis notification.RedisConfig `yaml:"redis"`
	Mongo notification.MongoConfig `yaml:"mongo"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Default() AppConfig {
	return AppConfig{
		NodeID: 1,
		HTTP:   HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Gateway: GatewayConfig{
			HandshakeTimeout: 5 * time.Second,
			PingInterval:     25 * time.Second,
			WriteWait:        10 * time.Second,
			SendQueueSize:    256,
		},
		JWT:    JWTConfig{Alg: "HS256", TTL: 2 * time.Hour},
		Reaper: ReaperConfig{Interval: 5 * time.Minute},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path (optional), then applies PRESENCE_* environment overrides.
func Load(path string) (*AppConfig, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*AppConfig, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	c.norm()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *AppConfig) norm() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.JWT.Alg == "" {
		c.JWT.Alg = "HS256"
	}
	if c.JWT.TTL <= 0 {
		c.JWT.TTL = 2 * time.Hour
	}
	if c.Reaper.Interval <= 0 {
		c.Reaper.Interval = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Notification.Store = strings.ToLower(strings.TrimSpace(c.Notification.Store))
}

func (c *AppConfig) Validate() error {
	if c.JWT.Secret == "" && c.JWT.JWKSURL == "" {
		return errors.New("jwt.secret or jwt.jwks_url is required")
	}
	switch c.Notification.Store {
	case StoreMemory, StoreRedis, StoreMongo:
	default:
		return errors.Errorf("unknown notification.store %q", c.Notification.Store)
	}
	if c.Notification.Store == StoreMongo && c.Notification.Mongo.Database == "" {
		return errors.New("notification.mongo.database is required")
	}
	return nil
}

func (c *AppConfig) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("JWT_SECRET", &c.JWT.Secret)
	str("JWT_ALG", &c.JWT.Alg)
	str("JWT_ISSUER", &c.JWT.Issuer)
	str("JWT_AUDIENCE", &c.JWT.Audience)
	str("JWT_JWKS_URL", &c.JWT.JWKSURL)
	str("NOTIFICATION_STORE", &c.Notification.Store)
	str("REDIS_ADDR", &c.Notification.Redis.Addr)
	str("REDIS_PASSWORD", &c.Notification.Redis.Password)
	str("MONGO_URI", &c.Notification.Mongo.Uri)
	str("MONGO_DATABASE", &c.Notification.Mongo.Database)
	str("INTERNAL_KEY", &c.InternalKey)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup(EnvPrefix + "NATS_SERVERS"); ok {
		c.NATS.Servers = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "NODE_ID"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%sNODE_ID", EnvPrefix)
		}
		c.NodeID = n
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"REAPER_INTERVAL", &c.Reaper.Interval},
		{"GATEWAY_HANDSHAKE_TIMEOUT", &c.Gateway.HandshakeTimeout},
		{"JWT_TTL", &c.JWT.TTL},
	}
	for _, d := range durations {
		v, ok := lookup(EnvPrefix + d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, d.key)
		}
		*d.dst = parsed
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *AppConfig) SecurityOptions() security.Options {
	return security.Options{
		Secret:      []byte(c.JWT.Secret),
		Alg:         c.JWT.Alg,
		TTL:         c.JWT.TTL,
		Issuer:      c.JWT.Issuer,
		Audience:    c.JWT.Audience,
		Leeway:      c.JWT.Leeway,
		JWKSURL:     c.JWT.JWKSURL,
		JWKSRefresh: c.JWT.JWKSRefresh,
	}
}

func (c *AppConfig) GatewayOptions() gateway.Options {
	g := c.Gateway
	return gateway.Options{
		HandshakeTimeout: g.HandshakeTimeout,
		PingInterval:     g.PingInterval,
		PongWait:         g.PongWait,
		WriteWait:        g.WriteWait,
		SendQueueSize:    g.SendQueueSize,
		AllowedOrigins:   g.AllowedOrigins,
	}
}
