package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration settings for the application.
type Config struct {
	// Server settings
	ListenAddress string
	ListenPort    string

	// Database settings
	DbFilePath   string
	SaveInterval time.Duration
	EnableBackup bool

	// Search settings
	MaxPageLimit int // Upper bound applied to the "limit" query parameter (clamped, never rejected)

	// Authentication settings
	JwtSecret     string // The actual secret key
	JwtSecretFile string // Path to the file containing the secret
	TokenLifetime time.Duration
	BcryptCost    int

	// Image CDN settings (Cloudinary-compatible API)
	CloudName      string
	CloudAPIKey    string
	CloudAPISecret string
	CloudBaseURL   string // Overridable for tests; empty means the public Cloudinary endpoint
	UploadFolder   string
}

const (
	defaultAddress       = "0.0.0.0"
	defaultPort          = "8080"
	defaultDbFile        = "./openhouse.json" // Relative to working dir
	defaultSaveInterval  = 3 * time.Second
	defaultEnableBackup  = true
	defaultMaxPageLimit  = 100
	defaultJwtSecretFile = ""                // No default file
	defaultJwtKeyFile    = "./openhouse.key" // Default file if we generate a key
	defaultTokenLifetime = 24 * time.Hour
	defaultBcryptCost    = 12
	defaultUploadFolder  = "real-estate/properties"
)

// LoadConfig loads configuration from defaults, environment variables, and command-line flags.
// Command-line flags take precedence over environment variables, which take precedence over defaults.
// A .env file in the working directory, if present, is folded into the environment first.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case outside local development.
	if err := godotenv.Load(); err == nil {
		log.Printf("INFO: Loaded environment overrides from .env")
	}

	cfg := &Config{}

	// Use OPENHOUSE_ prefix for environment variables to avoid conflicts
	flag.StringVar(&cfg.ListenAddress, "address", getEnv("OPENHOUSE_LISTEN_ADDRESS", defaultAddress), "Server listen address (Env: OPENHOUSE_LISTEN_ADDRESS)")
	flag.StringVar(&cfg.ListenPort, "port", getEnv("OPENHOUSE_LISTEN_PORT", defaultPort), "Server listen port (Env: OPENHOUSE_LISTEN_PORT)")
	flag.StringVar(&cfg.DbFilePath, "db-file", getEnv("OPENHOUSE_DB_FILE_PATH", defaultDbFile), "Path to the JSON database file (Env: OPENHOUSE_DB_FILE_PATH)")
	saveIntervalStr := flag.String("save-interval", getEnv("OPENHOUSE_SAVE_INTERVAL", defaultSaveInterval.String()), "Debounce interval for saving DB (e.g., 5s, 100ms) (Env: OPENHOUSE_SAVE_INTERVAL)")
	flag.BoolVar(&cfg.EnableBackup, "enable-backup", getEnvBool("OPENHOUSE_ENABLE_BACKUP", defaultEnableBackup), "Enable database backup (.bak file) before saving (Env: OPENHOUSE_ENABLE_BACKUP)")
	flag.IntVar(&cfg.MaxPageLimit, "max-page-limit", getEnvInt("OPENHOUSE_MAX_PAGE_LIMIT", defaultMaxPageLimit), "Maximum page size for search results; larger requests are clamped (Env: OPENHOUSE_MAX_PAGE_LIMIT)")
	flag.StringVar(&cfg.JwtSecretFile, "jwt-secret-file", getEnv("OPENHOUSE_JWT_SECRET_FILE", defaultJwtSecretFile), "Path to file containing JWT secret key (overrides OPENHOUSE_JWT_SECRET env var) (Env: OPENHOUSE_JWT_SECRET_FILE)")
	flag.StringVar(&cfg.CloudName, "cloud-name", getEnv("OPENHOUSE_CLOUD_NAME", ""), "Image CDN cloud name (Env: OPENHOUSE_CLOUD_NAME)")
	flag.StringVar(&cfg.UploadFolder, "upload-folder", getEnv("OPENHOUSE_UPLOAD_FOLDER", defaultUploadFolder), "Logical folder for uploaded property images (Env: OPENHOUSE_UPLOAD_FOLDER)")

	// Credentials are env-only; they have no business on a command line.
	cfg.CloudAPIKey = getEnv("OPENHOUSE_CLOUD_API_KEY", "")
	cfg.CloudAPISecret = getEnv("OPENHOUSE_CLOUD_API_SECRET", "")
	cfg.CloudBaseURL = getEnv("OPENHOUSE_CLOUD_BASE_URL", "")

	// Non-configurable defaults
	cfg.TokenLifetime = defaultTokenLifetime
	cfg.BcryptCost = defaultBcryptCost

	flag.Parse()

	// Parse duration after flags are parsed
	var err error
	cfg.SaveInterval, err = time.ParseDuration(*saveIntervalStr)
	if err != nil {
		log.Printf("WARN: Invalid save-interval duration '%s'. Using default %s. Error: %v", *saveIntervalStr, defaultSaveInterval, err)
		cfg.SaveInterval = defaultSaveInterval
	}

	if cfg.MaxPageLimit < 1 {
		log.Printf("WARN: max-page-limit %d is not positive. Using default %d.", cfg.MaxPageLimit, defaultMaxPageLimit)
		cfg.MaxPageLimit = defaultMaxPageLimit
	}

	// --- JWT Secret Handling ---
	// Priority: File (CLI/Env) > Env Var > Default Key File > Generate
	var secretSource string

	// 1. Check explicit file path (from flag or OPENHOUSE_JWT_SECRET_FILE env)
	if cfg.JwtSecretFile != "" {
		secretBytes, err := os.ReadFile(cfg.JwtSecretFile)
		if err == nil {
			cfg.JwtSecret = strings.TrimSpace(string(secretBytes))
			if cfg.JwtSecret != "" {
				secretSource = fmt.Sprintf("File (%s)", cfg.JwtSecretFile)
			} else {
				log.Printf("WARN: Specified JWT secret file '%s' is empty. Ignoring.", cfg.JwtSecretFile)
			}
		} else {
			log.Printf("WARN: Failed to read specified JWT secret file '%s': %v. Checking other sources.", cfg.JwtSecretFile, err)
		}
	}

	// 2. Check environment variable (OPENHOUSE_JWT_SECRET) if not loaded from file
	if cfg.JwtSecret == "" {
		cfg.JwtSecret = strings.TrimSpace(getEnv("OPENHOUSE_JWT_SECRET", ""))
		if cfg.JwtSecret != "" {
			secretSource = "Environment Variable (OPENHOUSE_JWT_SECRET)"
		}
	}

	// 3. Check default key file if still no secret
	if cfg.JwtSecret == "" {
		secretBytes, err := os.ReadFile(defaultJwtKeyFile)
		if err == nil {
			cfg.JwtSecret = strings.TrimSpace(string(secretBytes))
			if cfg.JwtSecret != "" {
				secretSource = fmt.Sprintf("Default Key File (%s)", defaultJwtKeyFile)
			}
		} else if !os.IsNotExist(err) {
			log.Printf("WARN: Failed to read default JWT key file '%s': %v. Will attempt generation.", defaultJwtKeyFile, err)
		}
	}

	// 4. Generate secret if still not found and save to default file
	if cfg.JwtSecret == "" {
		log.Printf("INFO: JWT secret not found via file, environment variable, or default key file. Generating a new secret...")
		newSecret, err := generateRandomKey(32) // 256-bit key
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JwtSecret = newSecret
		secretSource = "Generated (In Memory)"

		if err := os.WriteFile(defaultJwtKeyFile, []byte(newSecret), 0600); err != nil {
			log.Printf("WARN: Failed to save generated JWT secret to '%s': %v. The server will use the generated key for this session only.", defaultJwtKeyFile, err)
		} else {
			secretSource = fmt.Sprintf("Generated & Saved (%s)", defaultJwtKeyFile)
		}
	}

	if cfg.JwtSecret == "" {
		return nil, fmt.Errorf("failed to obtain a valid JWT secret after checking all sources and attempting generation")
	}

	// --- Database Path Validation ---
	absDbPath, err := filepath.Abs(cfg.DbFilePath)
	if err != nil {
		return nil, fmt.Errorf("could not determine absolute path for db-file '%s': %w", cfg.DbFilePath, err)
	}
	cfg.DbFilePath = absDbPath

	fileInfo, err := os.Stat(cfg.DbFilePath)
	if err == nil && fileInfo.IsDir() {
		return nil, fmt.Errorf("database path '%s' points to a directory, not a file", cfg.DbFilePath)
	}
	// os.IsNotExist is fine here; the DB is created on first save.

	if cfg.CloudName == "" || cfg.CloudAPIKey == "" || cfg.CloudAPISecret == "" {
		log.Printf("WARN: Image CDN credentials incomplete (OPENHOUSE_CLOUD_NAME/API_KEY/API_SECRET). Image upload endpoints will fail until they are set.")
	}

	logConfiguration(cfg, secretSource)

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// Recognizes "true", "1", "yes" (case-insensitive) as true.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
		log.Printf("WARN: Invalid boolean value for environment variable %s: '%s'. Using default: %t", key, value, fallback)
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("WARN: Invalid integer value for environment variable %s: '%s'. Using default: %d", key, value, fallback)
	}
	return fallback
}

// logConfiguration prints the loaded configuration settings.
func logConfiguration(cfg *Config, secretSource string) {
	log.Println("--- Configuration ---")
	log.Printf("Server Address: %s", cfg.ListenAddress)
	log.Printf("Server Port: %s", cfg.ListenPort)
	log.Printf("Database File: %s", cfg.DbFilePath)
	log.Printf("Database Save Interval: %s", cfg.SaveInterval)
	log.Printf("Database Backup Enabled: %t", cfg.EnableBackup)
	log.Printf("Max Page Limit: %d", cfg.MaxPageLimit)
	log.Printf("JWT Secret Source: %s", secretSource)
	log.Printf("JWT Token Lifetime: %s", cfg.TokenLifetime)
	log.Printf("Bcrypt Cost: %d", cfg.BcryptCost)
	log.Printf("Image CDN Cloud: %s", cfg.CloudName)
	log.Printf("Image Upload Folder: %s", cfg.UploadFolder)
	log.Println("---------------------")
}

// generateRandomKey generates a cryptographically secure random key of the specified byte length
// and returns it as a hex-encoded string.
func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
