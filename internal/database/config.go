package database

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds database configuration
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the lib/pq connection string
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// GetTestConfig returns database config for integration tests
func GetTestConfig() Config {
	port, err := strconv.Atoi(getEnv("TEST_DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return Config{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("TEST_DB_NAME", "continuity_test"),
		User:     getEnv("TEST_DB_USER", "continuity"),
		Password: getEnv("TEST_DB_PASSWORD", ""),
		SSLMode:  "disable",
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
