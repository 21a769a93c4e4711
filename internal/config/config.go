package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
)

// defaultJWTSecret 只允许在本地环境使用。
const defaultJWTSecret = "dev_secret_change_me"

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Mongo    MongoConfig    `json:"mongo"`
	Email    EmailConfig    `json:"email"`
	Media    MediaConfig    `json:"media"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env         string `json:"env"`          // 运行环境: local / prod
	LogLevel    string `json:"log_level"`    // 日志级别: debug / info / warn / error
	HTTPAddr    string `json:"http_addr"`    // API 服务监听地址
	FrontendURL string `json:"frontend_url"` // 允许跨域的前端地址
}

// MongoConfig 文档库配置。
type MongoConfig struct {
	URI      string `json:"uri"`      // 连接字符串
	Database string `json:"database"` // 数据库名
}

// EmailConfig 外发邮件（OTP）配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// MediaConfig 图片媒体存储（S3 兼容）配置。
type MediaConfig struct {
	Endpoint      string `json:"endpoint"`        // 为空时使用 AWS 默认端点
	Region        string `json:"region"`
	Bucket        string `json:"bucket"`
	AccessKey     string `json:"access_key"`
	SecretKey     string `json:"secret_key"`
	PublicBaseURL string `json:"public_base_url"` // 上传后对外可访问的 URL 前缀
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // 会话令牌签名密钥
}

// Load 从 JSON 文件加载配置。
//
// 读取 configs/config.json，不存在则使用默认值；环境变量优先覆盖文件内容。
// prod 环境下签名密钥缺失或仍为开发默认值时直接报错，进程不应启动。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	cfg := getDefaultConfig()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyDefaults(cfg)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.App.Env == "prod" {
		if cfg.Security.JWTSecret == "" || cfg.Security.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in prod")
		}
	}
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is empty")
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":5000",
			FrontendURL: "http://localhost:5173",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "folktrade",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Media: MediaConfig{
			Endpoint:      "",
			Region:        "us-east-1",
			Bucket:        "folktrade-media",
			PublicBaseURL: "",
		},
		Security: SecurityConfig{
			JWTSecret: defaultJWTSecret,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.FrontendURL == "" {
		cfg.App.FrontendURL = defaults.App.FrontendURL
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = defaults.Mongo.URI
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaults.Mongo.Database
	}
	if cfg.Email.SMTPHost == "" {
		cfg.Email.SMTPHost = defaults.Email.SMTPHost
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Media.Region == "" {
		cfg.Media.Region = defaults.Media.Region
	}
	if cfg.Media.Bucket == "" {
		cfg.Media.Bucket = defaults.Media.Bucket
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("mongo_uri", "MONGO_URI")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("media_access_key", "MEDIA_ACCESS_KEY")
	_ = viper.BindEnv("media_secret_key", "MEDIA_SECRET_KEY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.App.FrontendURL = v
	}

	if v := viper.GetString("mongo_uri"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DB"); v != "" {
		cfg.Mongo.Database = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}

	if v := os.Getenv("MEDIA_ENDPOINT"); v != "" {
		cfg.Media.Endpoint = v
	}
	if v := os.Getenv("MEDIA_REGION"); v != "" {
		cfg.Media.Region = v
	}
	if v := os.Getenv("MEDIA_BUCKET"); v != "" {
		cfg.Media.Bucket = v
	}
	if v := viper.GetString("media_access_key"); v != "" {
		cfg.Media.AccessKey = v
	}
	if v := viper.GetString("media_secret_key"); v != "" {
		cfg.Media.SecretKey = v
	}
	if v := os.Getenv("MEDIA_PUBLIC_BASE_URL"); v != "" {
		cfg.Media.PublicBaseURL = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
}
