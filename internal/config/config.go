package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPTimeout       time.Duration
	SenderName        string
	ReplyTo           string
	RatePerMinute     int
	DBPath            string
	HTTPPort          int
	RelayPort         int
	RelayAuthEnabled  bool
	RelayUsername     string
	RelayPassword     string
	LogLevel          string
	MaxRecipients     int
	MaxAttachmentSize int64
}

func Load() Config {
	return Config{
		SMTPHost:          getEnvString("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:          getEnvInt("SMTP_PORT", 587),
		SMTPUsername:      getEnvString("SMTP_USER", ""),
		SMTPPassword:      getEnvString("SMTP_PASS", ""),
		SMTPTimeout:       getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		SenderName:        getEnvString("SENDER_NAME", "Email Automation"),
		ReplyTo:           getEnvString("REPLY_TO", ""),
		RatePerMinute:     getEnvInt("RATE_PER_MIN", 60),
		DBPath:            getEnvString("DB_PATH", "storage/campaigns.db"),
		HTTPPort:          getEnvInt("HTTP_PORT", 3025),
		RelayPort:         getEnvInt("RELAY_PORT", 2025),
		RelayAuthEnabled:  getEnvBool("RELAY_AUTH_ENABLED", true),
		RelayUsername:     getEnvString("RELAY_USERNAME", "bulkmail"),
		RelayPassword:     getEnvString("RELAY_PASSWORD", "bulkmail"),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),
		MaxRecipients:     getEnvInt("MAX_RECIPIENTS", 10000),
		MaxAttachmentSize: int64(getEnvInt("MAX_ATTACHMENT_SIZE", 10<<20)),
	}
}

// Missing lists the required SMTP settings that are unset.
func (c Config) Missing() []string {
	var missing []string
	if c.SMTPUsername == "" {
		missing = append(missing, "SMTP_USER")
	}
	if c.SMTPPassword == "" {
		missing = append(missing, "SMTP_PASS")
	}
	return missing
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if parsed, err := time.ParseDuration(trimmed); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(trimmed); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
