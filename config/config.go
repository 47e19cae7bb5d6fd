package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const appDirName = ".HarmonyMusicPlayer"

// Config stores the application configuration.
// Everything has a default so a fresh install runs without a .env file.
type Config struct {
	DataDir string // Per-user application data directory, created on first run

	// Catalog database
	DBDriver   string // "sqlite" (default) or "mysql"
	DBPath     string // sqlite file, DataDir/musicplayer.db by default
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBLogLevel string // gorm logger: silent, error, warn, info

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Audio
	SampleRate    int           // Output device sample rate
	BufferLatency time.Duration // Device buffer length
	Volume        float64       // Initial volume 0.0-1.0, clamped by the engine

	// Progress monitor
	PollInterval time.Duration
	StuckPolls   int

	// Library watcher
	WatchLibrary  bool
	WatchDebounce time.Duration

	// Redis session store, disabled when RedisHost is empty
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	ms := getEnvInt(key, int(fallback/time.Millisecond))
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// defaultDataDir returns ~/.HarmonyMusicPlayer, or a directory under the
// working directory when no home directory can be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return appDirName
	}
	return filepath.Join(home, appDirName)
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("error loading .env, relying on existing environment variables and defaults: %v", err)
	}

	dataDir := getEnv("HARMONY_DATA_DIR", defaultDataDir())

	return &Config{
		DataDir:    dataDir,
		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", filepath.Join(dataDir, "musicplayer.db")),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "harmony"),
		DBLogLevel: getEnv("DB_LOG_LEVEL", "warn"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", filepath.Join(dataDir, "logs", "harmony.log")),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),

		SampleRate:    getEnvInt("AUDIO_SAMPLE_RATE", 44100),
		BufferLatency: getEnvMillis("AUDIO_BUFFER_MS", 100*time.Millisecond),
		Volume:        getEnvFloat("AUDIO_VOLUME", 0.8),

		PollInterval: getEnvMillis("POLL_INTERVAL_MS", 500*time.Millisecond),
		StuckPolls:   getEnvInt("STUCK_POLLS", 4),

		WatchLibrary:  getEnvBool("WATCH_LIBRARY", true),
		WatchDebounce: getEnvMillis("WATCH_DEBOUNCE_MS", 300*time.Millisecond),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}
}

// EnsureDataDir creates the application data directory if it is missing.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
