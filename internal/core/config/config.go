package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled     bool
	Brokers     []string
	Topic       string
	GroupID     string
	NotifyTopic string
}

type TracingCfg struct {
	Enabled      bool
	Exporter     string
	OTLPEndpoint string
	SampleRate   float64
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	StoreDriver      string
	RedisAddr        string
	CacheOpTimeout   time.Duration
	CascadeTimeout   time.Duration
	LockTTL          time.Duration
	TileBackend      string
	CacheRootDir     string
	CacheLayout      string
	ReconcileOnStart bool
	MetricsEnabled   bool
	MetricsAddr      string
	MetricsPath      string
	Events           EventsCfg
	Tracing          TracingCfg
}

func FromEnv() Config {
	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		LogSampleN:       getint("LOG_SAMPLE_N", 0),
		StoreDriver:      strings.ToLower(getenv("STORE_DRIVER", "redis")),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:   getduration("CACHE_OP_TIMEOUT", 2*time.Second),
		CascadeTimeout:   getduration("CASCADE_TIMEOUT", 5*time.Minute),
		LockTTL:          getduration("LOCK_TTL", 30*time.Second),
		TileBackend:      strings.ToLower(getenv("TILE_BACKEND", "fs")),
		CacheRootDir:     getenv("CACHE_ROOTDIR", "/var/cache/wmts"),
		CacheLayout:      getenv("CACHE_LAYOUT", "tc"),
		ReconcileOnStart: getbool("RECONCILE_ON_START", false),
		MetricsEnabled:   getbool("METRICS_ENABLED", false),
		MetricsAddr:      getenv("METRICS_ADDR", ":9090"),
		MetricsPath:      getenv("METRICS_PATH", "/metrics"),
		Events: EventsCfg{
			Enabled:     getbool("EVENTS_ENABLED", false),
			Brokers:     splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:       getenv("KAFKA_TOPIC", "wmts-cache-events"),
			GroupID:     getenv("KAFKA_GROUP_ID", "cache-manager"),
			NotifyTopic: os.Getenv("KAFKA_NOTIFY_TOPIC"),
		},
		Tracing: TracingCfg{
			Enabled:      getbool("TRACING_ENABLED", false),
			Exporter:     getenv("TRACING_EXPORTER", "stdout"),
			OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getfloat("TRACING_SAMPLE_RATE", 1.0),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a:9092, b:9092" into a list, dropping empty entries
func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
