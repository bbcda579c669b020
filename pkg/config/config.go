package config

import (
	"log"
	"os"
	"strconv"
)

// SMTPConfig is the default outbound account used when a job or campaign
// does not reference any stored accounts.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

type APIConfig struct {
	Port        string
	DBDSN       string
	RMQURL      string // empty disables the outcome-event feed
	EventsQueue string
	BaseURL     string
	RatePerMin  int
	SMTP        SMTPConfig
}

var API APIConfig

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func intEnv(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("env %s must be a positive integer, got %q", k, v)
	}
	return n
}

func MustLoadAPI() {
	API = APIConfig{
		Port:        getenv("PORT", "8080"),
		DBDSN:       mustEnv("DB_DSN"),
		RMQURL:      os.Getenv("RMQ_URL"),
		EventsQueue: getenv("EVENTS_QUEUE", "send_outcomes"),
		BaseURL:     getenv("BASE_URL", "http://localhost:8080"),
		RatePerMin:  intEnv("RATE_LIMIT_PER_MINUTE", 60),
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", "smtp.gmail.com"),
			Port:     intEnv("SMTP_PORT", 587),
			User:     mustEnv("SMTP_USER"),
			Pass:     mustEnv("SMTP_PASS"),
			From:     getenv("SMTP_FROM", os.Getenv("SMTP_USER")),
			FromName: getenv("SMTP_FROM_NAME", "DripMailer"),
		},
	}
}
