// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Environment is the current running environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// Server configuration
	Server struct {
		// Port is the HTTP server port
		Port int `mapstructure:"port"`
		// Host is the HTTP server host
		Host string `mapstructure:"host"`
		// ReadTimeout is the maximum duration for reading the entire request
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
		// WriteTimeout is the maximum duration before timing out writes of the response
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// IdleTimeout is the maximum amount of time to wait for the next request
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
		// ShutdownGracePeriod is how long active sessions are given to drain on shutdown
		ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	} `mapstructure:"server"`

	// Database configuration
	Database struct {
		// MongoDB configuration
		MongoDB struct {
			// URI is the MongoDB connection URI
			URI string `mapstructure:"uri"`
			// Database is the MongoDB database name
			Database string `mapstructure:"database"`
			// Timeout is the MongoDB operation timeout
			Timeout time.Duration `mapstructure:"timeout"`
			// MaxPoolSize is the maximum number of connections in the connection pool
			MaxPoolSize uint64 `mapstructure:"max_pool_size"`
			// MinPoolSize is the minimum number of connections in the connection pool
			MinPoolSize uint64 `mapstructure:"min_pool_size"`
			// MaxIdleTime is the maximum idle time for a connection
			MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
		} `mapstructure:"mongodb"`

		// Redis configuration
		Redis struct {
			// Addresses is the list of Redis server addresses
			Addresses []string `mapstructure:"addresses"`
			// Username is the Redis username
			Username string `mapstructure:"username"`
			// Password is the Redis password
			Password string `mapstructure:"password"`
			// Database is the Redis database index
			Database int `mapstructure:"database"`
			// MaxRetries is the maximum number of retries for Redis operations
			MaxRetries int `mapstructure:"max_retries"`
			// PoolSize is the Redis connection pool size
			PoolSize int `mapstructure:"pool_size"`
			// MinIdleConns is the minimum number of idle connections
			MinIdleConns int `mapstructure:"min_idle_conns"`
			// DialTimeout is the timeout for establishing new connections
			DialTimeout time.Duration `mapstructure:"dial_timeout"`
			// ReadTimeout is the timeout for Redis reads
			ReadTimeout time.Duration `mapstructure:"read_timeout"`
			// WriteTimeout is the timeout for Redis writes
			WriteTimeout time.Duration `mapstructure:"write_timeout"`
		} `mapstructure:"redis"`
	} `mapstructure:"database"`

	// Authentication configuration
	Auth struct {
		// JWTSecret is the secret key for verifying client JWTs
		JWTSecret string `mapstructure:"jwt_secret"`
		// AllowedOrigins is the list of allowed CORS origins
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"auth"`

	// Replays configuration for the score upload pipeline
	Replays struct {
		// SaveReplays enables persisting finished gameplay scores and replays
		SaveReplays bool `mapstructure:"save_replays"`
		// StoragePath is the directory replay files are written to
		StoragePath string `mapstructure:"storage_path"`
		// UploaderConcurrency is the number of concurrent upload workers
		UploaderConcurrency int `mapstructure:"uploader_concurrency"`
		// UploadTimeout is how long a score may wait for its database row before being dropped
		UploadTimeout time.Duration `mapstructure:"upload_timeout"`
	} `mapstructure:"replays"`

	// Metadata configuration for beatmap update broadcasting
	Metadata struct {
		// PollInterval is the delay between beatmap metadata polls
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"metadata"`

	// WebSocket configuration
	WebSocket struct {
		// MaxMessageSize is the maximum message size
		MaxMessageSize int64 `mapstructure:"max_message_size"`
		// WriteWait is the time allowed to write a message to the peer
		WriteWait time.Duration `mapstructure:"write_wait"`
		// PongWait is the time allowed to read the next pong message from the peer
		PongWait time.Duration `mapstructure:"pong_wait"`
		// PingPeriod is the time between ping messages
		PingPeriod time.Duration `mapstructure:"ping_period"`
		// MaxConnections is the maximum number of concurrent WebSocket connections
		MaxConnections int `mapstructure:"max_connections"`
	} `mapstructure:"websocket"`

	// Logging configuration
	Logging struct {
		// Level is the logging level
		Level string `mapstructure:"level"`
		// Format is the logging format (json or console)
		Format string `mapstructure:"format"`
		// OutputPaths is the list of output paths for logs
		OutputPaths []string `mapstructure:"output_paths"`
		// ErrorOutputPaths is the list of output paths for error logs
		ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	} `mapstructure:"logging"`
}

// LoadConfig loads the configuration from file and environment variables.
// It looks for a configuration file in the following locations:
// 1. Path specified in the CONFIG_FILE environment variable
// 2. ./configs directory
// 3. ../configs directory
// 4. /etc/spectator-server directory
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Configuration file name and type
	v.SetConfigName("app")
	v.SetConfigType("yaml")

	// Add configuration paths
	configFile := os.Getenv("CONFIG_FILE")
	if configFile != "" {
		// Use configuration file from environment variable
		v.SetConfigFile(configFile)
	} else {
		// Search for configuration in common directories
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/spectator-server")
	}

	// Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		// If the configuration file is not found, use environment variables and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Check for environment-specific configuration file
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // Default environment
	}

	v.SetConfigName(fmt.Sprintf("app.%s", env))
	// Try to merge the environment-specific configuration file
	if err := v.MergeInConfig(); err != nil {
		// Ignore file not found error for environment config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to merge environment config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("APP") // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load the configuration into the Config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set the environment
	config.Environment = env

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_grace_period", "30s")

	// Database defaults
	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.database", "osu")
	v.SetDefault("database.mongodb.timeout", "10s")
	v.SetDefault("database.mongodb.max_pool_size", 100)
	v.SetDefault("database.mongodb.min_pool_size", 10)
	v.SetDefault("database.mongodb.max_idle_time", "60s")

	v.SetDefault("database.redis.addresses", []string{"localhost:6379"})
	v.SetDefault("database.redis.database", 0)
	v.SetDefault("database.redis.max_retries", 3)
	v.SetDefault("database.redis.pool_size", 100)
	v.SetDefault("database.redis.min_idle_conns", 10)
	v.SetDefault("database.redis.dial_timeout", "5s")
	v.SetDefault("database.redis.read_timeout", "3s")
	v.SetDefault("database.redis.write_timeout", "3s")

	// Authentication defaults
	v.SetDefault("auth.allowed_origins", []string{"*"})

	// Replay defaults; uploads are opt-in and single-threaded unless configured
	v.SetDefault("replays.save_replays", false)
	v.SetDefault("replays.storage_path", "./replays")
	v.SetDefault("replays.uploader_concurrency", 1)
	v.SetDefault("replays.upload_timeout", "30s")

	// Metadata defaults
	v.SetDefault("metadata.poll_interval", "5s")

	// WebSocket defaults
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.max_connections", 10000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	// Validate JWT Secret
	if config.Auth.JWTSecret == "" {
		return errors.New("JWT secret must be set")
	}

	// Validate MongoDB configuration
	if config.Database.MongoDB.URI == "" {
		return errors.New("MongoDB URI must be set")
	}

	// Validate Redis configuration
	if len(config.Database.Redis.Addresses) == 0 {
		return errors.New("at least one Redis address must be provided")
	}

	// Validate replay uploader configuration
	if config.Replays.UploaderConcurrency < 1 {
		return errors.New("replay uploader concurrency must be at least 1")
	}
	if config.Replays.SaveReplays && config.Replays.StoragePath == "" {
		return errors.New("replay storage path must be set when replay saving is enabled")
	}

	// Validate metadata configuration
	if config.Metadata.PollInterval <= 0 {
		return errors.New("metadata poll interval must be positive")
	}

	return nil
}

// GetConfigString returns a formatted string with the current configuration
func GetConfigString(config *Config) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Environment: %s\n", config.Environment))
	sb.WriteString(fmt.Sprintf("Server: %s:%d\n", config.Server.Host, config.Server.Port))
	sb.WriteString(fmt.Sprintf("MongoDB Database: %s\n", config.Database.MongoDB.Database))
	sb.WriteString(fmt.Sprintf("Redis Database: %d\n", config.Database.Redis.Database))
	sb.WriteString(fmt.Sprintf("Save Replays: %t\n", config.Replays.SaveReplays))
	sb.WriteString(fmt.Sprintf("Replay Uploader Concurrency: %d\n", config.Replays.UploaderConcurrency))
	sb.WriteString(fmt.Sprintf("Metadata Poll Interval: %s\n", config.Metadata.PollInterval))

	return sb.String()
}
