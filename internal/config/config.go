package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// StoreBackend selects "postgres" or "memory".
	StoreBackend string
	// DataFile is the snapshot path for the memory backend. Empty
	// disables persistence.
	DataFile string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret string

	KafkaBrokers []string
	AuditTopic   string
}

// Load reads a .env file when one is present and falls back to process
// environment variables with defaults suitable for local development.
func Load() *Config {
	loadEnv()

	cfg := &Config{
		Port:         getenv("PORT", "5000"),
		StoreBackend: getenv("STORE_BACKEND", "postgres"),
		DataFile:     os.Getenv("LIBRARY_DATA_FILE"),
		DBHost:       getenv("DB_HOST", "localhost"),
		DBPort:       getenv("DB_PORT", "5432"),
		DBUser:       getenv("POSTGRES_USER", "postgres"),
		DBPassword:   getenv("POSTGRES_PASSWORD", "postgres"),
		DBName:       getenv("POSTGRES_DB", "library"),
		JWTSecret:    getenv("JWT_SECRET", "your-secret-key"),
		AuditTopic:   getenv("AUDIT_TOPIC", "library_audit"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	return cfg
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func loadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}

	possiblePaths := []string{
		filepath.Join(wd, ".env"),
		filepath.Join(wd, "..", ".env"),
		filepath.Join(wd, "..", "..", ".env"),
	}

	for _, envPath := range possiblePaths {
		if err := godotenv.Load(envPath); err == nil {
			return
		}
	}
	for _, envPath := range possiblePaths {
		examplePath := filepath.Join(filepath.Dir(envPath), ".example.env")
		if err := godotenv.Load(examplePath); err == nil {
			return
		}
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
