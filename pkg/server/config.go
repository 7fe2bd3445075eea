package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnohosten/shelfdb/pkg/metrics"
)

// Config holds ops server configuration settings
type Config struct {
	Addr            string                // Listen address, host:port
	ReadTimeout     time.Duration         // HTTP read timeout
	WriteTimeout    time.Duration         // HTTP write timeout
	IdleTimeout     time.Duration         // HTTP idle timeout
	ShutdownTimeout time.Duration         // Grace period for in-flight requests
	EnableLogging   bool                  // Log every request at DEBUG
	Logger          *slog.Logger          // Defaults to discarding everything
	Gatherer        prometheus.Gatherer   // Served on /metrics; defaults to prometheus.DefaultGatherer
	SlowQueryLog    *metrics.SlowQueryLog // Served on /debug/slow-queries; optional
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:            "localhost:8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		EnableLogging:   true,
	}
}
