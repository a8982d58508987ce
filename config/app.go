package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything main needs, read once from the environment after
// godotenv has had a chance to populate it.
type Config struct {
	Port     string
	LogLevel string
	LogText  bool

	SessionStore  string // mongo|memory
	EngineIdleTTL time.Duration

	MongoURI          string
	MongoDB           string
	MongoForceTLS     bool
	MongoInsecureTLS  bool
	PostgresURI       string
	RedisAddr         string
	JournalStream     string
	JournalWorkers    int
	PostcodeAPIURL    string
	PostcodeCacheTTL  time.Duration
	GCSBucket         string
	GCSCredentialFile string
	GCSPublicRead     bool

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AllowedOrigins []string
}

func Load() Config {
	return Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		LogText:  strings.EqualFold(os.Getenv("LOG_FORMAT"), "text"),

		SessionStore:  strings.ToLower(getenv("SESSION_STORE", "mongo")),
		EngineIdleTTL: durationEnv("ENGINE_IDLE_TTL", 30*time.Minute),

		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getenv("MONGO_DB", "jointcheck"),
		MongoForceTLS:     os.Getenv("MONGO_FORCE_TLS_CONFIG") == "true" || os.Getenv("GO_ENV") == "development",
		MongoInsecureTLS:  os.Getenv("MONGO_INSECURE_TLS") == "true",
		PostgresURI:       os.Getenv("POSTGRES_URI"),
		RedisAddr:         firstEnv("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),
		JournalStream:     getenv("JOURNAL_STREAM", "journal:stream"),
		JournalWorkers:    intEnv("JOURNAL_WORKERS", 2),
		PostcodeAPIURL:    getenv("POSTCODE_API_URL", "https://api.postcodes.io"),
		PostcodeCacheTTL:  durationEnv("POSTCODE_CACHE_TTL", 24*time.Hour),
		GCSBucket:         os.Getenv("GCS_BUCKET"),
		GCSCredentialFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		GCSPublicRead:     getenv("GCS_PUBLIC_READ", "true") == "true",

		JWTSecret:   os.Getenv("AUTH_JWT_SECRET"),
		JWTIssuer:   os.Getenv("AUTH_JWT_ISSUER"),
		JWTAudience: os.Getenv("AUTH_JWT_AUDIENCE"),

		AllowedOrigins: splitList(os.Getenv("WS_ALLOWED_ORIGINS")),
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
