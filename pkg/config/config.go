package config

import (
	"log"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	GatewayBaseURL string
	GatewayAPIKey  string
	GatewayModel   string
	// IsGatewayEnabled is a flag to enable/disable the coaching gateway (enum: "1" or "0").
	// When disabled the local coach streamer serves replies instead.
	IsGatewayEnabled bool

	AppEnv       string
	IsStaging    bool
	IsProduction bool

	JWTSecret string
	Port      string

	// runtime tunables
	RateLimitWindowSeconds int
	RateLimitCapacity      int
	UserConcurrencyLimit   int
	DuplicateWindowSeconds int
	ListCacheTTLSeconds    int
	ListCacheMaxItems      int
	// StreamTimeoutSeconds bounds one streaming exchange with the gateway.
	// 0 disables the timeout.
	StreamTimeoutSeconds int
)

// loadAppEnv loads .env for non-production environments only; production
// reads from the host environment.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")

	if AppEnv == "production" {
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("[config] no .env file loaded: %v", err)
	}
}

func init() {
	loadAppEnv()

	GatewayBaseURL = os.Getenv("GATEWAY_BASE_URL")
	GatewayAPIKey = os.Getenv("GATEWAY_API_KEY")
	GatewayModel = os.Getenv("GATEWAY_MODEL")

	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "" {
		AppEnv = "staging"
		log.Printf("[config] APP_ENV not set; defaulting to staging")
	}

	if !slices.Contains([]string{"staging", "production"}, AppEnv) {
		log.Fatal("environment variable APP_ENV must be 'staging' or 'production'")
	}

	IsStaging = AppEnv == "staging"
	IsProduction = AppEnv == "production"

	// IS_GATEWAY_ENABLED: "1" for enabled, anything else is false
	IsGatewayEnabled = os.Getenv("IS_GATEWAY_ENABLED") == "1"

	if GatewayBaseURL == "" {
		GatewayBaseURL = "https://api.openai.com/v1"
	}
	if GatewayModel == "" {
		GatewayModel = "gpt-4o-mini"
	}

	JWTSecret = os.Getenv("JWT_SECRET_KEY")
	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "5000"
	}

	// Tunables with defaults
	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 10)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), 5)
	UserConcurrencyLimit = atoiOr(os.Getenv("USER_CONCURRENCY_LIMIT"), 2)
	DuplicateWindowSeconds = atoiOr(os.Getenv("DUPLICATE_WINDOW_SECONDS"), 45)
	ListCacheTTLSeconds = atoiOr(os.Getenv("LIST_CACHE_TTL_SECONDS"), 60)
	ListCacheMaxItems = atoiOr(os.Getenv("LIST_CACHE_MAX_ITEMS"), 500)
	StreamTimeoutSeconds = atoiOr(os.Getenv("STREAM_TIMEOUT_SECONDS"), 90)

	if IsProduction && JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY must be set in production")
	}

	log.Printf("[config] AppEnv=%s IsStaging=%v IsProduction=%v", AppEnv, IsStaging, IsProduction)
	log.Printf("[config] IsGatewayEnabled=%v GatewayAPIKeyPresent=%v", IsGatewayEnabled, GatewayAPIKey != "")
	log.Printf("[config] GatewayBaseURL=%s GatewayModel=%s", GatewayBaseURL, GatewayModel)
	log.Printf("[config] RateLimit window=%ds capacity=%d userConc=%d dupWindow=%ds listCacheTTL=%ds listCacheMax=%d streamTimeout=%ds",
		RateLimitWindowSeconds, RateLimitCapacity, UserConcurrencyLimit, DuplicateWindowSeconds, ListCacheTTLSeconds, ListCacheMaxItems, StreamTimeoutSeconds)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
