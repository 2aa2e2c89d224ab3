package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/stackin/escrow/internal/config"
)

// Config describes the ledger database connection and its pool.
type Config struct {
	Type     string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Queries slower than this are logged at warn level.
	SlowQueryThreshold time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type:               strings.ToLower(strings.TrimSpace(cfg.DBType)),
		Host:               cfg.DBHost,
		Port:               cfg.DBPort,
		Name:               cfg.DBName,
		User:               cfg.DBUser,
		Password:           cfg.DBPassword,
		SSLMode:            cfg.DBSSLMode,
		MaxIdleConn:        cfg.DBMaxIdleConn,
		MaxOpenConn:        cfg.DBMaxOpenConn,
		ConnMaxLifetime:    time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime:    time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
		SlowQueryThreshold: cfg.DBSlowQuery,
	}
}

func (c Config) dsn() (string, error) {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode), nil
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			c.User, c.Password, c.Host, c.Port, c.Name), nil
	case "sqlite":
		if c.Name == "" {
			return "escrow.db", nil
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", c.Type)
	}
}
