// Package config reads takedat settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ssd-technologies/takedat/internal/chunk"
	"github.com/ssd-technologies/takedat/internal/fileio"
)

// Session store backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Server holds the relay server settings.
type Server struct {
	Port           string
	Host           string
	SessionTTL     time.Duration
	ChunkSize      int
	MaxFileSize    int64
	AllowedOrigins []string
	StaticDir      string
	Store          string
	DataDir        string
	RedisAddr      string
	RelayRate      int
	APIRate        int
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.Host + ":" + s.Port
}

// DBPath is the SQLite database file inside DataDir.
func (s *Server) DBPath() string {
	return filepath.Join(s.DataDir, "takedat.db")
}

// LoadServer reads server settings, applying defaults for unset variables.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Port:           getEnv("PORT", "8080"),
		Host:           getEnv("HOST", "0.0.0.0"),
		SessionTTL:     getDuration("SESSION_TTL", 10*time.Minute),
		ChunkSize:      getInt("CHUNK_SIZE", chunk.DefaultSize),
		MaxFileSize:    getInt64("MAX_FILE_SIZE", 5*1024*1024*1024),
		AllowedOrigins: getList("ALLOWED_ORIGINS", []string{"*"}),
		StaticDir:      getEnv("STATIC_DIR", ""),
		Store:          strings.ToLower(getEnv("TAKEDAT_STORE", StoreSQLite)),
		DataDir:        getEnv("TAKEDAT_DATA_DIR", "data"),
		RedisAddr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RelayRate:      getInt("RELAY_RATE", 2000),
		APIRate:        getInt("API_RATE", 120),
	}
	if cfg.Store != StoreSQLite && cfg.Store != StoreRedis {
		return nil, fmt.Errorf("TAKEDAT_STORE must be %q or %q, got %q", StoreSQLite, StoreRedis, cfg.Store)
	}
	if err := checkChunkSize("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive, got %s", cfg.SessionTTL)
	}
	return cfg, nil
}

// Client holds the CLI settings. Flags may override any of them.
type Client struct {
	ServerURL   string
	ChunkSize   int
	AckTimeout  time.Duration
	DownloadDir string
}

// LoadClient reads CLI settings from the environment.
func LoadClient() (*Client, error) {
	cfg := &Client{
		ServerURL:   strings.TrimRight(getEnv("TAKEDAT_SERVER", "http://localhost:8080"), "/"),
		ChunkSize:   getInt("TAKEDAT_CHUNK_SIZE", chunk.DefaultSize),
		AckTimeout:  getDuration("TAKEDAT_ACK_TIMEOUT", 30*time.Second),
		DownloadDir: getEnv("TAKEDAT_DOWNLOAD_DIR", ""),
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = fileio.DefaultDownloadDir()
	}
	if err := checkChunkSize("TAKEDAT_CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkChunkSize(key string, n int) error {
	if n <= 0 || n > chunk.MaxSize {
		return fmt.Errorf("%s must be between 1 and %d, got %d", key, chunk.MaxSize, n)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getList splits a comma separated variable, dropping empty entries.
func getList(key string, fallback []string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
