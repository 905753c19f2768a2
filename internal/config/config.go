package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Converter ConverterConfig `yaml:"converter"`
	Worker    WorkerConfig    `yaml:"worker"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Signing   SigningConfig   `yaml:"signing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the batch-intake wake-up channel configuration
type RabbitMQConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	VHost             string        `yaml:"vhost"`
	ExchangeName      string        `yaml:"exchange_name"`
	ExchangeType      string        `yaml:"exchange_type"`
	QueueName         string        `yaml:"queue_name"`
	RoutingKey        string        `yaml:"routing_key"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// RedisConfig holds the notification pub/sub connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig holds artifact store (S3) configuration
type StorageConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
}

// SMTPConfig holds mail transport configuration
type SMTPConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	From          string        `yaml:"from"`
	RateLimit     int           `yaml:"rate_limit"`
	RetryAttempts int           `yaml:"retry_attempts"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
}

// ConverterConfig holds the document converter service configuration
type ConverterConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
}

// WorkerConfig holds job worker configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SweeperConfig holds the scheduled-delivery sweep configuration
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SigningConfig holds signing link configuration
type SigningConfig struct {
	BaseURL string `yaml:"base_url"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills values that have a sane default when omitted
func (c *Config) applyDefaults() {
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.JobTimeout <= 0 {
		c.Worker.JobTimeout = 10 * time.Minute
	}
	if c.Sweeper.Interval <= 0 {
		c.Sweeper.Interval = time.Minute
	}
	if c.SMTP.RetryAttempts <= 0 {
		c.SMTP.RetryAttempts = 3
	}
	if c.SMTP.SendTimeout <= 0 {
		c.SMTP.SendTimeout = 30 * time.Second
	}
	if c.Converter.RequestTimeout <= 0 {
		c.Converter.RequestTimeout = 60 * time.Second
	}
	if c.Converter.RetryAttempts <= 0 {
		c.Converter.RetryAttempts = 3
	}
}

// validateCommon checks settings shared by both services
func (c *Config) validateCommon() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.ExchangeName == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.QueueName == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.SMTP.Port < MinPort || c.SMTP.Port > MaxPort {
		return fmt.Errorf("invalid smtp port: %d (must be between %d and %d)", c.SMTP.Port, MinPort, MaxPort)
	}
	if c.Converter.URL == "" {
		return fmt.Errorf("converter url is required")
	}
	return nil
}

// ValidateAPI checks if the configuration is valid for the API service
func (c *Config) ValidateAPI() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	if c.Signing.BaseURL == "" {
		return fmt.Errorf("signing base_url is required")
	}
	return c.validateCommon()
}

// ValidateWorker checks if the configuration is valid for the worker service
func (c *Config) ValidateWorker() error {
	if c.Signing.BaseURL == "" {
		return fmt.Errorf("signing base_url is required")
	}
	return c.validateCommon()
}
