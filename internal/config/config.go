package config

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string
	LogLevel    string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// bounded time for every store call
	StoreTimeout time.Duration

	// Redis configuration, empty address disables the cross-instance relay
	RedisAddress string

	// JWT configuration
	JWTSecret string

	FrontendAddress string

	// Upload configuration
	BlobBackend     string
	UploadDir       string
	UploadURLPrefix string
	MaxUploadBytes  int64

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string

	// Image generation service
	ImageServiceURL     string
	ImageServiceTimeout time.Duration

	WorkerPoolSize int
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Warn().Err(err).Str("path", envPath).Msg("error loading .env file")
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32) // Generate a 32-byte random secret if not declared
		log.Warn().Msg("generated random JWT secret")
	}

	AppConfig = Config{
		ServerPort:          getEnv("PORT", "8080"),
		Environment:         getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", "postgres"),
		DBName:              getEnv("DB_NAME", "project_canvas"),
		StoreTimeout:        getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		RedisAddress:        getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:           jwtSecret,
		FrontendAddress:     getEnv("FRONTEND_ADDRESS", "https://production-frontend.com"),
		BlobBackend:         getEnv("BLOB_BACKEND", "local"),
		UploadDir:           getEnv("UPLOAD_DIR", filepath.Join("uploads", "canvas")),
		UploadURLPrefix:     getEnv("UPLOAD_URL_PREFIX", "/static/uploads/canvas"),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_BYTES", 16<<20)),
		MinioEndpoint:       getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:      getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:      getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:         getEnv("MINIO_BUCKET", "canvas-uploads"),
		MinioUseSSL:         getEnvBool("MINIO_USE_SSL", false),
		MinioPublicURL:      getEnv("MINIO_PUBLIC_URL", "http://localhost:9000"),
		ImageServiceURL:     getEnv("IMAGE_SERVICE_URL", "https://image.pollinations.ai"),
		ImageServiceTimeout: getEnvDuration("IMAGE_SERVICE_TIMEOUT", 10*time.Second),
		WorkerPoolSize:      getEnvInt("WORKER_POOL_SIZE", 4),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvDuration accepts Go durations ("750ms", "10s") or plain seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal().Err(err).Msg("failed to read random bytes")
	}
	secret := make([]byte, length)
	for i := range secret {
		secret[i] = charset[int(buf[i])%len(charset)]
	}
	return string(secret)
}
