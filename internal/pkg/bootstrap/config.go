// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath  = "config.yaml"
	defaultServiceName = "promo-token-service"
)

// Config 是服务的完整配置。先读 YAML 文件，再用环境变量覆盖。
type Config struct {
	App    AppConfig    `yaml:"app"`
	Store  StoreConfig  `yaml:"store"`
	Infra  InfraConfig  `yaml:"infra"`
	Admin  AdminConfig  `yaml:"admin"`
	Redeem RedeemConfig `yaml:"redeem"`
	Log    LogConfig    `yaml:"log"`
}

type AppConfig struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

// StoreConfig 选择持久存储。ReadOnly 表示部署环境下持久存储只能读取，写入全部落到覆盖层。
type StoreConfig struct {
	Driver       string `yaml:"driver"` // sqlite | mysql | redis
	DSN          string `yaml:"dsn"`
	ReadOnly     bool   `yaml:"read_only"`
	SeedDefaults bool   `yaml:"seed_defaults"`
}

type InfraConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Jaeger JaegerConfig `yaml:"jaeger"`
	Nacos  NacosConfig  `yaml:"nacos"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig 中 Brokers 为空时不发布事件
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type AdminConfig struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type RedeemConfig struct {
	SuccessExpr string `yaml:"success_expr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var currentConfig atomic.Pointer[Config]

// DefaultConfig 返回本地开发用的默认配置：sqlite 文件存储，不连接任何外部基础设施。
func DefaultConfig() *Config {
	return &Config{
		App:   AppConfig{Name: defaultServiceName, Port: 8080},
		Store: StoreConfig{Driver: "sqlite", DSN: "tokens.db", SeedDefaults: true},
		Infra: InfraConfig{
			Redis: RedisConfig{Addr: "localhost:6379"},
			Kafka: KafkaConfig{Topic: "promo-token-events"},
			Nacos: NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig 读取配置文件（不存在时使用默认值），应用环境变量覆盖并校验。
// 成功后结果可以通过 GetCurrentConfig 获取。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	currentConfig.Store(cfg)
	return cfg, nil
}

// GetCurrentConfig 返回最近一次成功加载的配置，尚未加载时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "mysql", "redis":
	default:
		return fmt.Errorf("store.driver must be sqlite, mysql or redis, got %q", c.Store.Driver)
	}
	if c.Store.Driver == "mysql" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the mysql driver")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("app.port out of range: %d", c.App.Port)
	}
	if (c.Admin.User == "") != (c.Admin.Pass == "") {
		return fmt.Errorf("admin.user and admin.pass must be set together")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := getEnv("PORT", ""); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.App.Port = port
	}
	if v := getEnv("STORE_READ_ONLY", ""); v != "" {
		ro, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid STORE_READ_ONLY %q: %w", v, err)
		}
		cfg.Store.ReadOnly = ro
	}
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Infra.Kafka.Brokers = splitList(v)
	}
	if v := getEnv("NACOS_SERVER_ADDRS", ""); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
		cfg.Infra.Nacos.Enabled = true
	}

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnv("STORE_DSN", cfg.Store.DSN)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Infra.Kafka.Topic)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	cfg.Admin.User = getEnv("ADMIN_USER", cfg.Admin.User)
	cfg.Admin.Pass = getEnv("ADMIN_PASS", cfg.Admin.Pass)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Redeem.SuccessExpr = getEnv("REDEEM_SUCCESS_EXPR", cfg.Redeem.SuccessExpr)
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

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
