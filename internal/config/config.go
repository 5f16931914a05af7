package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	HTTPListenAddr string
	LogLevel       string

	DBDriver string
	DBDSN    string

	JWTSecret string
	JWTTTL    time.Duration

	FluxAPIKey          string
	FluxBaseURL         string
	FluxModelPath       string
	FluxSafetyTolerance int
	FluxOutputFormat    string
	FluxPollInterval    time.Duration
	FluxPollAttempts    int
	FluxPollBackoff     float64
	GenerationRetries   int
	RequestTimeout      time.Duration

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool

	SignupBonusCredits int
	SignupTrialMode    bool
	MaxUploadBytes     int64

	StripeWebhookSecret      string
	StripePriceCredits       map[string]int
	RevenueCatWebhookSecret  string
	RevenueCatProductCredits map[string]int

	TelegramBotToken  string
	TelegramOpsChatID int64
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultFluxBaseURL = "https://api.bfl.ai"

	stripePrices, err := parseCreditMap(os.Getenv("STRIPE_PRICE_CREDITS"))
	if err != nil {
		return Config{}, fmt.Errorf("STRIPE_PRICE_CREDITS: %w", err)
	}
	rcProducts, err := parseCreditMap(os.Getenv("REVENUECAT_PRODUCT_CREDITS"))
	if err != nil {
		return Config{}, fmt.Errorf("REVENUECAT_PRODUCT_CREDITS: %w", err)
	}

	cfg := Config{
		HTTPListenAddr:           getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DBDriver:                 strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DBDSN:                    os.Getenv("DB_DSN"),
		JWTSecret:                os.Getenv("JWT_SECRET"),
		JWTTTL:                   time.Hour * time.Duration(getInt("JWT_TTL_HOURS", 24*30)),
		FluxAPIKey:               os.Getenv("FLUX_API_KEY"),
		FluxBaseURL:              normalizeBaseURL(getEnv("FLUX_BASE_URL", defaultFluxBaseURL), defaultFluxBaseURL),
		FluxModelPath:            getEnv("FLUX_MODEL_PATH", "/v1/flux-kontext-pro"),
		FluxSafetyTolerance:      getInt("FLUX_SAFETY_TOLERANCE", 2),
		FluxOutputFormat:         getEnv("FLUX_OUTPUT_FORMAT", "jpeg"),
		FluxPollInterval:         time.Millisecond * time.Duration(getInt("FLUX_POLL_INTERVAL_MS", 2000)),
		FluxPollAttempts:         getInt("FLUX_POLL_ATTEMPTS", 30),
		FluxPollBackoff:          getFloat("FLUX_POLL_BACKOFF", 1.0),
		GenerationRetries:        getInt("GENERATION_RETRIES", 0),
		RequestTimeout:           time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 30)),
		S3Endpoint:               getEnv("S3_ENDPOINT", ""),
		S3Region:                 os.Getenv("S3_REGION"),
		S3AccessKey:              os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:              os.Getenv("S3_SECRET_KEY"),
		S3Bucket:                 os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:          os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:           getBool("S3_USE_PATH_STYLE", false),
		SignupBonusCredits:       getInt("SIGNUP_BONUS_CREDITS", 0),
		SignupTrialMode:          getBool("SIGNUP_TRIAL_MODE", false),
		MaxUploadBytes:           int64(getInt("MAX_UPLOAD_MB", 10)) << 20,
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceCredits:       stripePrices,
		RevenueCatWebhookSecret:  os.Getenv("REVENUECAT_WEBHOOK_SECRET"),
		RevenueCatProductCredits: rcProducts,
		TelegramBotToken:         os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramOpsChatID:        getInt64("TELEGRAM_OPS_CHAT_ID", 0),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.FluxAPIKey == "" {
		missing = append(missing, "FLUX_API_KEY")
	}
	if c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want mysql or sqlite)", c.DBDriver)
	}
	if c.FluxPollAttempts <= 0 {
		return fmt.Errorf("FLUX_POLL_ATTEMPTS must be positive")
	}
	if c.FluxPollBackoff < 1 {
		return fmt.Errorf("FLUX_POLL_BACKOFF must be >= 1")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// LoadDatabase reads only the settings needed to open the database, for the
// migrate and reconcile commands.
func LoadDatabase() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}
	cfg := Config{
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DBDriver: strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DBDSN:    os.Getenv("DB_DSN"),
	}
	if cfg.DBDSN == "" {
		return Config{}, fmt.Errorf("missing required environment variables: [DB_DSN]")
	}
	return cfg, nil
}

// normalizeBaseURL fills in a scheme and strips trailing slashes so paths can be appended.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

// parseCreditMap parses "id:credits,id2:credits" into a map.
func parseCreditMap(raw string) (map[string]int, error) {
	out := make(map[string]int)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 || idx == len(pair)-1 {
			return nil, fmt.Errorf("invalid entry %q", pair)
		}
		credits, err := strconv.Atoi(strings.TrimSpace(pair[idx+1:]))
		if err != nil || credits <= 0 {
			return nil, fmt.Errorf("invalid credits in %q", pair)
		}
		out[strings.TrimSpace(pair[:idx])] = credits
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile loads the first env file found. Unlike a bot deployment, containers
// usually inject variables directly, so a missing file is fine.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
