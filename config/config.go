package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Values come from the
// environment (optionally seeded by a .env file) with simple defaults.
type Config struct {
	ServerAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// SoundCloud OAuth application credentials. The gate degrades to
	// "not configured" messaging when these are empty.
	SoundCloudClientID     string
	SoundCloudClientSecret string
	// Optional fixed redirect URI. When set it takes precedence over the
	// dynamically built callback URL; SoundCloud requires the token-exchange
	// redirect_uri to byte-exact match the authorize one.
	SoundCloudRedirectURI string
	SoundCloudOAuthScope  string

	// Base URL used to build absolute callback URLs (no trailing slash).
	PublicBaseURL string

	JWTSecret string

	LogPath  string
	LogLevel string
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

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override variables already present in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "scgate"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "scgate"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		SoundCloudClientID:     os.Getenv("SOUNDCLOUD_CLIENT_ID"),
		SoundCloudClientSecret: os.Getenv("SOUNDCLOUD_CLIENT_SECRET"),
		SoundCloudRedirectURI:  os.Getenv("SOUNDCLOUD_REDIRECT_URI"),
		SoundCloudOAuthScope:   getEnv("SOUNDCLOUD_OAUTH_SCOPE", "*"),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		LogPath:  getEnv("LOG_PATH", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// SoundCloudConfigured reports whether OAuth client credentials are present.
func (c *Config) SoundCloudConfigured() bool {
	return c.SoundCloudClientID != "" && c.SoundCloudClientSecret != ""
}
