package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host string     `mapstructure:"HOST"`
	Port string     `mapstructure:"PORT"`
	CORS CORSConfig `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"ENABLED"`
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
	// PresenceTTL 是在线状态镜像键的过期时间，连接存活期间会定期刷新。
	PresenceTTL time.Duration `mapstructure:"PRESENCE_TTL"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	Server     ServerConfig    `mapstructure:"SERVER"`     // ChatServer 的配置
	APIServer  APIServerConfig `mapstructure:"API_SERVER"` // API 服务器配置
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	Database   DatabaseConfig  `mapstructure:"DATABASE"`
	Store      StoreConfig     `mapstructure:"STORE"`
	Auth       AuthConfig      `mapstructure:"AUTH"`
	WebSocket  WebSocketConfig `mapstructure:"WEBSOCKET"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Mail       MailConfig      `mapstructure:"MAIL"`
	Jobs       JobsConfig      `mapstructure:"JOBS"`
}

// ServerConfig holds configuration for the chat (websocket) server.
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"ENABLED"`
	Brokers  []string `mapstructure:"BROKERS"`
	ClientID string   `mapstructure:"CLIENT_ID"`
	Protocol string   `mapstructure:"PROTOCOL"`
	// WebSocketOutgoingTopic 承载跨实例投递的出站事件
	WebSocketOutgoingTopic string `mapstructure:"WEBSOCKET_OUTGOING_TOPIC"`
	// ConsumerGroupPrefix 与实例 ID 拼接，使每个 ChatServer 实例都能收到全部出站事件
	ConsumerGroupPrefix string `mapstructure:"CONSUMER_GROUP_PREFIX"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type     string `mapstructure:"TYPE"` // postgres, mysql, sqlite
	Host     string `mapstructure:"HOST"`
	Port     int    `mapstructure:"PORT"`
	User     string `mapstructure:"USER"`
	Password string `mapstructure:"PASSWORD"`
	DBName   string `mapstructure:"DB_NAME"`
	SSLMode  string `mapstructure:"SSL_MODE"`
	// Path 仅用于 sqlite
	Path string `mapstructure:"PATH"`
}

// StoreConfig 控制持久层瞬时错误的有限重试。
type StoreConfig struct {
	RetryAttempts int           `mapstructure:"RETRY_ATTEMPTS"`
	RetryInterval time.Duration `mapstructure:"RETRY_INTERVAL"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
	// AllowUserIDParam 允许 WebSocket 握手时直接携带 user_id（无 token）。
	AllowUserIDParam bool          `mapstructure:"ALLOW_USER_ID_PARAM"`
	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`
	ResetTokenTTL    time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	ResetURLBase     string        `mapstructure:"RESET_URL_BASE"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int `mapstructure:"SEND_BUFFER_SIZE"`
}

// MailConfig holds SMTP settings for outbound email.
type MailConfig struct {
	Enabled   bool   `mapstructure:"ENABLED"`
	SMTPHost  string `mapstructure:"SMTP_HOST"`
	SMTPPort  int    `mapstructure:"SMTP_PORT"`
	Username  string `mapstructure:"USERNAME"`
	Password  string `mapstructure:"PASSWORD"`
	FromEmail string `mapstructure:"FROM_EMAIL"`
	FromName  string `mapstructure:"FROM_NAME"`
}

// JobsConfig 配置基于 asynq 的后台任务（邮件投递）。
type JobsConfig struct {
	Enabled     bool   `mapstructure:"ENABLED"`
	Concurrency int    `mapstructure:"CONCURRENCY"`
	Queue       string `mapstructure:"QUEUE"`
	MaxRetry    int    `mapstructure:"MAX_RETRY"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (config Config, err error) {
	if envErr := godotenv.Load(); envErr != nil {
		log.Printf("未加载 .env 文件: %v", envErr)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// SERVER_PORT 覆盖 Server.Port，嵌套字段用下划线连接: SERVER_WEBSOCKET_PATH
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		// 配置文件不存在时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "IM-Chat")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// Server Defaults (ChatServer)
	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "8000")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws/chat")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20)

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8001")
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "PATCH", "POST", "DELETE", "PUT"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", true)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300)

	// Kafka Defaults
	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "im-chat")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.WEBSOCKET_OUTGOING_TOPIC", "im-websocket-outgoing")
	v.SetDefault("KAFKA.CONSUMER_GROUP_PREFIX", "im-chat-relay")

	// Database Defaults
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "im_chat_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.PATH", "im_chat.db")

	v.SetDefault("STORE.RETRY_ATTEMPTS", 3)
	v.SetDefault("STORE.RETRY_INTERVAL", 50*time.Millisecond)

	// Auth Defaults
	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)
	v.SetDefault("AUTH.ALLOW_USER_ID_PARAM", true)
	v.SetDefault("AUTH.OTP_TTL", 10*time.Minute)
	v.SetDefault("AUTH.RESET_TOKEN_TTL", 10*time.Minute)
	v.SetDefault("AUTH.RESET_URL_BASE", "http://localhost:3000/auth/new-password")

	// Redis Defaults
	v.SetDefault("REDIS.ENABLED", true)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.PRESENCE_TTL", 2*time.Minute)

	// WebSocket Defaults
	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 64*1024)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 256)

	// Mail Defaults
	v.SetDefault("MAIL.ENABLED", false)
	v.SetDefault("MAIL.SMTP_HOST", "localhost")
	v.SetDefault("MAIL.SMTP_PORT", 587)
	v.SetDefault("MAIL.FROM_EMAIL", "no-reply@im-chat.local")
	v.SetDefault("MAIL.FROM_NAME", "Chat-Server")

	// Jobs Defaults
	v.SetDefault("JOBS.ENABLED", false)
	v.SetDefault("JOBS.CONCURRENCY", 5)
	v.SetDefault("JOBS.QUEUE", "mail")
	v.SetDefault("JOBS.MAX_RETRY", 5)
}
