package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "analyses_db", cfg.Database.Database)
				assert.Equal(t, "analysis_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "analysis_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "analysis_dlq", cfg.RabbitMQ.DeadLetter.Queue)
				assert.Equal(t, 6000, cfg.Extraction.MaxChars)
				assert.Equal(t, 30, cfg.Analyzer.RequestsPerMinute)
				assert.Equal(t, 72*time.Hour, cfg.Worker.ResultRetention)
				assert.Equal(t, "@every 30m", cfg.Worker.SweepSchedule)
				assert.Equal(t, "doc-analyzer-api", cfg.App.Name)
			}
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("RABBITMQ_PASSWORD", "rabbit-secret")
	t.Setenv("ANALYZER_API_KEY", "sk-test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "rabbit-secret", cfg.RabbitMQ.Password)
	assert.Equal(t, "sk-test", cfg.Analyzer.APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	// Untouched values keep the file contents
	assert.Equal(t, "postgres", cfg.Database.User)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Worker: WorkerConfig{Concurrency: 3}}
	cfg.ApplyDefaults()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(32<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, QueueBackendRabbitMQ, cfg.Queue.Backend)
	assert.Equal(t, 100, cfg.Queue.MemoryCapacity)
	assert.Equal(t, 3, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, "local", cfg.Documents.Backend)
	assert.Equal(t, "data", cfg.Documents.LocalDir)
	assert.Equal(t, "pdftotext", cfg.Extraction.Pdftotext)
	assert.Equal(t, 8000, cfg.Extraction.MaxChars)
	assert.Equal(t, "groq", cfg.Analyzer.Provider)
	assert.Equal(t, "@hourly", cfg.Worker.SweepSchedule)
	assert.Equal(t, 7*24*time.Hour, cfg.Worker.ResultRetention)
}

func validAPIConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "analyses_db",
		},
		Queue: QueueBackend{Backend: QueueBackendRabbitMQ},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "analysis_exchange"},
			Queue:    QueueConfig{Name: "analysis_queue"},
		},
		Documents: DocumentsConfig{Backend: "local"},
		Analyzer:  AnalyzerConfig{Provider: "groq"},
		Worker: WorkerConfig{
			Concurrency:     2,
			ShutdownTimeout: time.Second,
		},
	}
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "unknown database driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "unsupported database driver",
		},
		{
			name: "sqlite needs a path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite"}
			},
			errString: "database path is required",
		},
		{
			name: "sqlite with a path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite", Path: "data/analyses.db"}
			},
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "half configured dead letter",
			mutate:    func(c *Config) { c.RabbitMQ.DeadLetter.Exchange = "analysis_dlx" },
			errString: "dead_letter needs both",
		},
		{
			name:      "memory queue without embedded workers",
			mutate:    func(c *Config) { c.Queue.Backend = QueueBackendMemory },
			errString: "memory queue requires worker.embedded",
		},
		{
			name: "memory queue with embedded workers",
			mutate: func(c *Config) {
				c.Queue.Backend = QueueBackendMemory
				c.RabbitMQ = RabbitMQConfig{}
				c.Worker.Embedded = true
			},
		},
		{
			name: "embedded workers with a bad provider",
			mutate: func(c *Config) {
				c.Worker.Embedded = true
				c.Analyzer.Provider = "claude-local"
			},
			errString: "unsupported analyzer provider",
		},
		{
			name:      "unknown queue backend",
			mutate:    func(c *Config) { c.Queue.Backend = "kafka" },
			errString: "unsupported queue backend",
		},
		{
			name:      "s3 without bucket",
			mutate:    func(c *Config) { c.Documents.Backend = "s3" },
			errString: "documents s3 bucket is required",
		},
		{
			name:      "unknown documents backend",
			mutate:    func(c *Config) { c.Documents.Backend = "ftp" },
			errString: "unsupported documents backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "negative retention",
			mutate:    func(c *Config) { c.Worker.ResultRetention = -time.Hour },
			errString: "result_retention must not be negative",
		},
		{
			name:      "missing shutdown timeout",
			mutate:    func(c *Config) { c.Worker.ShutdownTimeout = 0 },
			errString: "shutdown_timeout must be greater than 0",
		},
		{
			name:      "memory queue",
			mutate:    func(c *Config) { c.Queue.Backend = QueueBackendMemory },
			errString: "requires the rabbitmq queue backend",
		},
		{
			name:      "unknown provider",
			mutate:    func(c *Config) { c.Analyzer.Provider = "other" },
			errString: "unsupported analyzer provider",
		},
		{
			name:   "gemini provider",
			mutate: func(c *Config) { c.Analyzer.Provider = "gemini" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})

	t.Run("embedded single binary mode", func(t *testing.T) {
		cfg, err := Load("testdata/embedded_sqlite.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		assert.Equal(t, 50, cfg.Queue.MemoryCapacity)

		err = cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rabbitmq")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
