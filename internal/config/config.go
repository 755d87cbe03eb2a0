package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DispatchLocal = "local"
	DispatchNATS  = "nats"

	StorageLocalFS = "localfs"
	StorageMinIO   = "minio"
)

type Config struct {
	APIPort     string
	LogLevel    string
	Environment string

	// PostgresDSN empty keeps sessions in memory.
	PostgresDSN string

	// NATSURL empty disables the event relay and remote dispatch.
	NATSURL             string
	NATSEventsSubject   string
	NATSRequestsSubject string
	DispatchMode        string

	StorageBackend string
	StoragePath    string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UseSSL       bool

	AnalysisMode           string
	MaxConcurrentAnalyses  int
	MaxTaskRetries         int
	RetryTimeUnit          time.Duration
	AnalysisTimeoutSeconds int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	LocalLLMURL            string
	LocalLLMModel          string
	UseLocalLLM            bool
	LocalLLMMultiStage     bool
	AllowSimulatedFallback bool
	ChunkSize              int
	ChunkOverlap           int

	AirSpecMode          bool
	CPUUsageThreshold    float64
	BatchCoolDownSeconds int

	APIRateLimitRPS     float64
	APIRateLimitBurst   int
	APIMaxInFlight      int
	APIBackpressureWait time.Duration
	CORSAllowedOrigins  []string
	MaxUploadBytes      int64

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:     mustEnv("API_PORT", "8080"),
		LogLevel:    mustEnv("LOG_LEVEL", "info"),
		Environment: mustEnv("ENVIRONMENT", "development"),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:             mustEnv("NATS_URL", ""),
		NATSEventsSubject:   mustEnv("NATS_EVENTS_SUBJECT", "analysis.events"),
		NATSRequestsSubject: mustEnv("NATS_REQUESTS_SUBJECT", "analysis.requests"),
		DispatchMode:        strings.ToLower(mustEnv("DISPATCH_MODE", DispatchLocal)),

		StorageBackend: strings.ToLower(mustEnv("STORAGE_BACKEND", StorageLocalFS)),
		StoragePath:    mustEnv("STORAGE_PATH", "./data/storage"),
		S3Endpoint:     mustEnv("S3_ENDPOINT", "localhost:9000"),
		S3Region:       mustEnv("S3_REGION", "us-east-1"),
		S3Bucket:       mustEnv("S3_BUCKET_NAME", "documents"),
		S3AccessKey:    mustEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:    mustEnv("S3_SECRET_KEY", "minioadmin"),
		S3UseSSL:       mustEnvBool("S3_USE_SSL", false),

		AnalysisMode:           strings.ToLower(mustEnv("ANALYSIS_MODE", "local")),
		MaxConcurrentAnalyses:  mustEnvInt("MAX_CONCURRENT_ANALYSES", 5),
		MaxTaskRetries:         mustEnvInt("MAX_TASK_RETRIES", 3),
		RetryTimeUnit:          mustEnvDuration("RETRY_TIME_UNIT", time.Second),
		AnalysisTimeoutSeconds: mustEnvInt("ANALYSIS_TIMEOUT_SECONDS", 300),

		OpenAIAPIKey:  mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: mustEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:   mustEnv("OPENAI_MODEL", "gpt-4o-mini"),

		LocalLLMURL:            mustEnv("LOCAL_LLM_URL", "http://localhost:11434"),
		LocalLLMModel:          mustEnv("LOCAL_LLM_MODEL", "llama3.2"),
		UseLocalLLM:            mustEnvBool("USE_LOCAL_LLM", false),
		LocalLLMMultiStage:     mustEnvBool("LOCAL_LLM_MULTI_STAGE", false),
		AllowSimulatedFallback: mustEnvBool("ALLOW_SIMULATED_FALLBACK", true),
		ChunkSize:              mustEnvInt("CHUNK_SIZE", 8000),
		ChunkOverlap:           mustEnvInt("CHUNK_OVERLAP", 400),

		AirSpecMode:          mustEnvBool("AIR_SPEC_MODE", false),
		CPUUsageThreshold:    mustEnvFloat("CPU_USAGE_THRESHOLD", 80),
		BatchCoolDownSeconds: mustEnvInt("BATCH_COOL_DOWN_SECONDS", 5),

		APIRateLimitRPS:     mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst:   mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:      mustEnvInt("API_MAX_IN_FLIGHT", 64),
		APIBackpressureWait: mustEnvDuration("API_BACKPRESSURE_WAIT", 250*time.Millisecond),
		CORSAllowedOrigins:  mustEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MaxUploadBytes:      int64(mustEnvInt("MAX_UPLOAD_BYTES", 50<<20)),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSeconds) * time.Second
}

func (c Config) CoolDown() time.Duration {
	return time.Duration(c.BatchCoolDownSeconds) * time.Second
}

func mustEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("250ms") or plain seconds ("2").
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(v, 64); err == nil && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}

func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
