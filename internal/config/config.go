// Package config loads service configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every recognised option. Zero values fall back to the
// defaults set in Load.
type Config struct {
	Host     string
	Port     int
	HTTPPort int

	// Database. Type is "postgres" or "memory"; Path is used by the
	// agreement engine for its JSON documents.
	DBType     string
	DBPath     string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	MeshEnabled bool
	MeshHost    string
	MeshPort    int

	LogLevel string
	LogPath  string

	TestingMode bool
	LowCPUMode  bool
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("component", "config").Warnf("Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getenvBool(key string) bool {
	return os.Getenv(key) == "true"
}

// Load reads .env if present, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		logrus.WithField("component", "config").Info("Loaded configuration from .env")
	}

	return &Config{
		Host:     getenv("MCP_HOST", "0.0.0.0"),
		Port:     getenvInt("MCP_PORT", 8082),
		HTTPPort: getenvInt("MCP_HTTP_PORT", 8081),

		DBType:     getenv("MCP_DB_TYPE", "memory"),
		DBPath:     getenv("MCP_DB_PATH", "data/agreements"),
		DBHost:     getenv("MCP_DB_HOST", "localhost"),
		DBPort:     getenvInt("MCP_DB_PORT", 5432),
		DBName:     getenv("MCP_DB_NAME", "mcpzero"),
		DBUser:     getenv("MCP_DB_USER", "mcpzero"),
		DBPassword: os.Getenv("MCP_DB_PASSWORD"),

		MeshEnabled: getenvBool("MCP_MESH_ENABLED"),
		MeshHost:    getenv("MCP_MESH_HOST", "0.0.0.0"),
		MeshPort:    getenvInt("MCP_MESH_PORT", 8765),

		LogLevel: getenv("MCP_LOG_LEVEL", "info"),
		LogPath:  os.Getenv("MCP_LOG_PATH"),

		TestingMode: getenvBool("MCP_TESTING_MODE"),
		LowCPUMode:  getenvBool("MCP_LOW_CPU_MODE"),
	}
}

// DatabaseURL builds a pgx connection string from the MCP_DB_* options.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// ApplyLogging configures logrus from MCP_LOG_LEVEL and MCP_LOG_PATH.
func (c *Config) ApplyLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.LogPath != "" {
		f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logrus.WithField("component", "config").Warnf("Cannot open log file %s: %v", c.LogPath, err)
			return
		}
		logrus.SetOutput(f)
	}
}
