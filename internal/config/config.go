package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr      string
	AWSRegion string

	DeploymentTable string
	LabConfigTable  string
	StreamARN       string
	QueueURL        string

	TTLExtension  time.Duration
	SweepInterval time.Duration

	NamespaceCreateFn string
	NamespaceRemoveFn string
	UserCreateFn      string
	UserRemoveFn      string

	AuthSecret string

	AuditDatabaseURL string
	KafkaBrokers     []string
	KafkaTopic       string
	AuditBucket      string
	AuditPrefix      string
}

const (
	defaultAddr          = ":8070"
	defaultTTLExtension  = 300 * time.Second
	defaultSweepInterval = 60 * time.Second
	defaultKafkaTopic    = "lab-lifecycle-events"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:      getEnv("LIFECYCLE_ADDR", defaultAddr),
		AWSRegion: os.Getenv("AWS_REGION"),

		DeploymentTable: os.Getenv("DEPLOYMENT_STATE_TABLE"),
		LabConfigTable:  os.Getenv("LAB_CONFIGURATION_TABLE"),
		StreamARN:       os.Getenv("DEPLOYMENT_STREAM_ARN"),
		QueueURL:        os.Getenv("SESSION_QUEUE_URL"),

		TTLExtension:  getSeconds("TTL_EXTENSION_SECONDS", defaultTTLExtension),
		SweepInterval: getSeconds("SWEEP_INTERVAL_SECONDS", defaultSweepInterval),

		NamespaceCreateFn: os.Getenv("NS_CREATE_FUNCTION"),
		NamespaceRemoveFn: os.Getenv("NS_REMOVE_FUNCTION"),
		UserCreateFn:      os.Getenv("USER_CREATE_FUNCTION"),
		UserRemoveFn:      os.Getenv("USER_REMOVE_FUNCTION"),

		AuthSecret: os.Getenv("LIFECYCLE_AUTH_SECRET"),

		AuditDatabaseURL: os.Getenv("AUDIT_DATABASE_URL"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		AuditBucket:      os.Getenv("AUDIT_BUCKET"),
		AuditPrefix:      os.Getenv("AUDIT_PREFIX"),
	}
	if cfg.DeploymentTable == "" {
		return Config{}, fmt.Errorf("DEPLOYMENT_STATE_TABLE required")
	}
	if cfg.LabConfigTable == "" {
		return Config{}, fmt.Errorf("LAB_CONFIGURATION_TABLE required")
	}
	if cfg.UserCreateFn == "" || cfg.UserRemoveFn == "" {
		return Config{}, fmt.Errorf("USER_CREATE_FUNCTION and USER_REMOVE_FUNCTION required")
	}
	if cfg.NamespaceCreateFn == "" || cfg.NamespaceRemoveFn == "" {
		return Config{}, fmt.Errorf("NS_CREATE_FUNCTION and NS_REMOVE_FUNCTION required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
