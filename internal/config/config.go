package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"waste-track/tracking/tracking-backend/internal/shipments"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Kafka      KafkaConfig      `json:"kafka"`
	Storage    StorageConfig    `json:"storage"`
	Security   SecurityConfig   `json:"security"`
	Validation ValidationConfig `json:"validation"`
	Workflow   WorkflowConfig   `json:"workflow"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// RedisConfig selects the draft session store. An empty Addr keeps drafts in memory.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// StorageConfig is the signature archive bucket. Archiving is off without a bucket.
type StorageConfig struct {
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

type SecurityConfig struct {
	JWTSecret            string        `json:"jwt_secret"`
	JWTIssuer            string        `json:"jwt_issuer"`
	TokenTTL             time.Duration `json:"token_ttl"`
	SignatureKeyMaterial string        `json:"signature_key_material"`
	KeyVersion           string        `json:"key_version"`
	AllowedOrigins       []string      `json:"allowed_origins"`
}

// ValidationConfig holds the codes the producer and transporter must enter
type ValidationConfig struct {
	ProducerCode    string `json:"producer_code"`
	TransporterCode string `json:"transporter_code"`
}

type WorkflowConfig struct {
	DraftTTL        time.Duration `json:"draft_ttl"`
	LocationTimeout time.Duration `json:"location_timeout"`
	SweepSchedule   string        `json:"sweep_schedule"`
}

// LoggingConfig
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig loads configuration from file and environment variables. A .env
// file in the working directory is read first when present.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	// Default config
	config := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "waste_track",
			SSLMode:        "disable",
			MaxConnections: 20,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic: "shipment-events",
		},
		Storage: StorageConfig{
			Region: "eu-west-1",
			Prefix: "waste-track",
		},
		Security: SecurityConfig{
			JWTIssuer:  "waste-track",
			TokenTTL:   12 * time.Hour,
			KeyVersion: "v1",
		},
		Workflow: WorkflowConfig{
			DraftTTL:        24 * time.Hour,
			LocationTimeout: 10 * time.Second,
			SweepSchedule:   "0 * * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	setString("SERVER_HOST", &config.Server.Host)
	setInt("SERVER_PORT", &config.Server.Port)

	setString("DATABASE_HOST", &config.Database.Host)
	setInt("DATABASE_PORT", &config.Database.Port)
	setString("DATABASE_USER", &config.Database.User)
	setString("DATABASE_PASSWORD", &config.Database.Password)
	setString("DATABASE_DBNAME", &config.Database.DBName)
	setString("DATABASE_SSLMODE", &config.Database.SSLMode)

	setString("REDIS_ADDR", &config.Redis.Addr)
	setString("REDIS_PASSWORD", &config.Redis.Password)
	setInt("REDIS_DB", &config.Redis.DB)

	setList("KAFKA_BROKERS", &config.Kafka.Brokers)
	setString("KAFKA_TOPIC", &config.Kafka.Topic)

	setString("AWS_REGION", &config.Storage.Region)
	setString("S3_BUCKET", &config.Storage.Bucket)
	setString("S3_PREFIX", &config.Storage.Prefix)
	setString("S3_ENDPOINT", &config.Storage.Endpoint)
	setString("AWS_ACCESS_KEY_ID", &config.Storage.AccessKeyID)
	setString("AWS_SECRET_ACCESS_KEY", &config.Storage.SecretAccessKey)

	setString("JWT_SECRET", &config.Security.JWTSecret)
	setString("JWT_ISSUER", &config.Security.JWTIssuer)
	setDuration("TOKEN_TTL", &config.Security.TokenTTL)
	setString("SIGNATURE_KEY_MATERIAL", &config.Security.SignatureKeyMaterial)
	setString("SIGNATURE_KEY_VERSION", &config.Security.KeyVersion)
	setList("ALLOWED_ORIGINS", &config.Security.AllowedOrigins)

	setString("PRODUCER_CODE", &config.Validation.ProducerCode)
	setString("TRANSPORTER_CODE", &config.Validation.TransporterCode)

	setDuration("DRAFT_TTL", &config.Workflow.DraftTTL)
	setDuration("LOCATION_TIMEOUT", &config.Workflow.LocationTimeout)
	setString("SWEEP_SCHEDULE", &config.Workflow.SweepSchedule)

	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setList(key string, dst *[]string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// Validate rejects configurations the API cannot safely start with
func (c *Config) Validate() error {
	var errs []error
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret is required"))
	}
	if c.Security.SignatureKeyMaterial == "" {
		errs = append(errs, errors.New("security.signature_key_material is required"))
	}
	if !validCode(c.Validation.ProducerCode) {
		errs = append(errs, fmt.Errorf("validation.producer_code must be 1 to %d digits", shipments.MaxCodeLength))
	}
	if !validCode(c.Validation.TransporterCode) {
		errs = append(errs, fmt.Errorf("validation.transporter_code must be 1 to %d digits", shipments.MaxCodeLength))
	}
	if c.Workflow.DraftTTL <= 0 {
		errs = append(errs, errors.New("workflow.draft_ttl must be positive"))
	}
	if c.Workflow.LocationTimeout <= 0 {
		errs = append(errs, errors.New("workflow.location_timeout must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// validCode reports whether code can be typed into the entered-code buffer
func validCode(code string) bool {
	if code == "" || len(code) > shipments.MaxCodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
