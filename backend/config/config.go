package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		// remote：调用 auth-service 的 /v1/auth/verify；jwt：本地校验 HS256
		Mode      string `mapstructure:"mode"`
		Path      string `mapstructure:"path"`
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	LLM struct {
		BaseURL     string        `mapstructure:"baseURL"`
		APIKey      string        `mapstructure:"apiKey"`
		Model       string        `mapstructure:"model"`
		Temperature float32       `mapstructure:"temperature"`
		MaxTokens   int           `mapstructure:"maxTokens"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`
	Collab struct {
		SaveDebounce    time.Duration `mapstructure:"saveDebounce"`
		RoomGracePeriod time.Duration `mapstructure:"roomGracePeriod"`
		SendQueueSize   int           `mapstructure:"sendQueueSize"`
		PresenceTTL     time.Duration `mapstructure:"presenceTTL"`
		MaxWrites       int           `mapstructure:"maxWrites"`
	} `mapstructure:"collab"`
	Cors struct {
		Enabled      bool     `mapstructure:"enabled"`
		AllowOrigins []string `mapstructure:"allowOrigins"`
	} `mapstructure:"cors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8082)
	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/drafts?parseTime=true&charset=utf8mb4")
	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "draft-events")
	v.SetDefault("auth.mode", "remote")
	v.SetDefault("auth.path", "http://localhost:3001")
	v.SetDefault("auth.jwtSecret", "dev-secret")
	v.SetDefault("llm.baseURL", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "llama3.1")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 150)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("collab.saveDebounce", 2*time.Second)
	v.SetDefault("collab.roomGracePeriod", 30*time.Second)
	v.SetDefault("collab.sendQueueSize", 64)
	v.SetDefault("collab.presenceTTL", 60*time.Second)
	v.SetDefault("collab.maxWrites", 100)
	v.SetDefault("cors.enabled", false)
	v.SetDefault("cors.allowOrigins", []string{"http://localhost:5173"})
}

// Load 读取 collabConfig.yaml；找不到配置文件时只用默认值 + 环境变量（COLLAB_REDIS_ADDRS 等）
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)
	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
