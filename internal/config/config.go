package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue backends
const (
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueBackend     `yaml:"queue"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"SERVER_CORS_ORIGINS" envSeparator:","`
}

// DatabaseConfig holds the lifecycle store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	Path            string        `yaml:"path" env:"DATABASE_PATH"`
	Host            string        `yaml:"host" env:"DATABASE_HOST"`
	Port            int           `yaml:"port" env:"DATABASE_PORT"`
	User            string        `yaml:"user" env:"DATABASE_USER"`
	Password        string        `yaml:"password" env:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE_NAME"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QueueBackend selects the transport between the gateway and the workers
type QueueBackend struct {
	Backend        string `yaml:"backend" env:"QUEUE_BACKEND"`
	MemoryCapacity int    `yaml:"memory_capacity"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig names where rejected deliveries end up
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// DocumentsConfig selects where uploads are written and references resolved
type DocumentsConfig struct {
	Backend  string   `yaml:"backend" env:"DOCUMENTS_BACKEND"`
	LocalDir string   `yaml:"local_dir" env:"DOCUMENTS_LOCAL_DIR"`
	S3       S3Config `yaml:"s3"`
}

// S3Config holds object storage settings
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	Region    string `yaml:"region" env:"S3_REGION"`
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
}

// ExtractionConfig configures text extraction
type ExtractionConfig struct {
	Pdftotext string        `yaml:"pdftotext"`
	MaxChars  int           `yaml:"max_chars"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AnalyzerConfig configures the language model collaborator
type AnalyzerConfig struct {
	Provider          string        `yaml:"provider" env:"ANALYZER_PROVIDER"`
	Model             string        `yaml:"model" env:"ANALYZER_MODEL"`
	BaseURL           string        `yaml:"base_url" env:"ANALYZER_BASE_URL"`
	APIKey            string        `yaml:"api_key" env:"ANALYZER_API_KEY"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// WorkerConfig holds worker pool configuration. Embedded runs the pool inside the API process.
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency" env:"WORKER_CONCURRENCY"`
	Embedded        bool          `yaml:"embedded"`
	ResultRetention time.Duration `yaml:"result_retention"`
	SweepSchedule   string        `yaml:"sweep_schedule"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the configuration file, applies environment overrides and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()

	return &config, nil
}

// ApplyDefaults fills every unset value that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 32 << 20
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueBackendRabbitMQ
	}
	if c.Queue.MemoryCapacity == 0 {
		c.Queue.MemoryCapacity = 100
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = c.Worker.Concurrency
	}

	if c.Documents.Backend == "" {
		c.Documents.Backend = "local"
	}
	if c.Documents.LocalDir == "" {
		c.Documents.LocalDir = "data"
	}

	if c.Extraction.Pdftotext == "" {
		c.Extraction.Pdftotext = "pdftotext"
	}
	if c.Extraction.MaxChars == 0 {
		c.Extraction.MaxChars = 8000
	}

	if c.Analyzer.Provider == "" {
		c.Analyzer.Provider = "groq"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Worker.SweepSchedule == "" {
		c.Worker.SweepSchedule = "@hourly"
	}
	if c.Worker.ResultRetention == 0 {
		c.Worker.ResultRetention = 7 * 24 * time.Hour
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	switch c.Queue.Backend {
	case QueueBackendRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	case QueueBackendMemory:
		// Nothing would ever drain an in-process queue without local workers
		if !c.Worker.Embedded {
			return fmt.Errorf("memory queue requires worker.embedded")
		}
	default:
		return fmt.Errorf("unsupported queue backend: %q", c.Queue.Backend)
	}

	if c.Worker.Embedded {
		if err := c.validatePool(); err != nil {
			return err
		}
	}

	return c.validateDocuments()
}

// ValidateWorkerConfig checks the settings the standalone worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validatePool(); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Queue.Backend != QueueBackendRabbitMQ {
		return fmt.Errorf("worker service requires the rabbitmq queue backend, got %q", c.Queue.Backend)
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	return c.validateDocuments()
}

func (c *Config) validatePool() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ResultRetention < 0 {
		return fmt.Errorf("worker result_retention must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	switch c.Analyzer.Provider {
	case "groq", "openai", "gemini":
	default:
		return fmt.Errorf("unsupported analyzer provider: %q", c.Analyzer.Provider)
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
		return nil
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if (c.RabbitMQ.DeadLetter.Exchange == "") != (c.RabbitMQ.DeadLetter.Queue == "") {
		return fmt.Errorf("rabbitmq dead_letter needs both exchange and queue")
	}

	return nil
}

func (c *Config) validateDocuments() error {
	switch c.Documents.Backend {
	case "local":
		return nil
	case "s3":
		if c.Documents.S3.Bucket == "" {
			return fmt.Errorf("documents s3 bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported documents backend: %q", c.Documents.Backend)
	}
}
