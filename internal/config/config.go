package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prospectdb/prospect-stats/internal/platform/logging"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

// SourceSpec is one upstream source declared through the environment.
// Per-source settings live under SOURCE_<KEY>_* with the key uppercased
// and dashes mapped to underscores.
type SourceSpec struct {
	Key           string
	DisplayName   string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSec    float64
	BurstCapacity int
	// Per-kind cache TTL overrides; zero means the service-wide default.
	TTLSearch      time.Duration
	TTLEntityStats time.Duration
	TTLLeaderboard time.Duration
}

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv                  string
	ServiceName             string
	ServiceVersion          string
	HTTPAddr                string
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	CORSAllowedOrigins      []string
	LogLevel                logging.Level
	DBEnabled               bool
	DBURL                   string
	DBDisablePreparedBinary bool
	SnapshotKeepPerQuery    int
	CacheSweepInterval      time.Duration
	CacheTTLSearch          time.Duration
	CacheTTLEntityStats     time.Duration
	CacheTTLLeaderboard     time.Duration
	DefaultRatePerSec       float64
	DefaultBurstCapacity    int
	QueryDeadline           time.Duration
	CircuitEnabled          bool
	CircuitFailureCount     int
	CircuitOpenTimeout      time.Duration
	CircuitHalfOpenMaxReq   int
	MatchStrongMaxDistance  int
	MatchWeakMinSimilarity  float64
	Sources                 []SourceSpec
	InternalJobToken        string
	UptraceEnabled          bool
	UptraceDSN              string
	PyroscopeEnabled        bool
	PyroscopeServerAddress  string
	PyroscopeAppName        string
	PyroscopeAuthToken      string
	PyroscopeUploadRate     time.Duration
	PprofEnabled            bool
	PprofAddr               string
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	readTimeout, err := time.ParseDuration(getEnv("APP_READ_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := time.ParseDuration(getEnv("APP_WRITE_TIMEOUT", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse APP_WRITE_TIMEOUT: %w", err)
	}

	dbEnabled, err := strconv.ParseBool(getEnv("DB_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DB_ENABLED: %w", err)
	}
	dbURL := strings.TrimSpace(getEnv("DB_URL", ""))
	if dbEnabled && dbURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required when DB_ENABLED=true")
	}
	dbDisablePreparedBinary, err := strconv.ParseBool(getEnv("DB_DISABLE_PREPARED_BINARY_RESULT", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DB_DISABLE_PREPARED_BINARY_RESULT: %w", err)
	}
	snapshotKeepPerQuery, err := getEnvAsInt("SNAPSHOT_KEEP_PER_QUERY", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse SNAPSHOT_KEEP_PER_QUERY: %w", err)
	}
	if snapshotKeepPerQuery < 1 {
		return Config{}, fmt.Errorf("SNAPSHOT_KEEP_PER_QUERY must be >= 1")
	}

	cacheSweepInterval, err := time.ParseDuration(getEnv("CACHE_SWEEP_INTERVAL", "1m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_SWEEP_INTERVAL: %w", err)
	}
	if cacheSweepInterval <= 0 {
		return Config{}, fmt.Errorf("CACHE_SWEEP_INTERVAL must be > 0")
	}
	cacheTTLSearch, err := time.ParseDuration(getEnv("CACHE_TTL_SEARCH", "30m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL_SEARCH: %w", err)
	}
	if cacheTTLSearch <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL_SEARCH must be > 0")
	}
	cacheTTLEntityStats, err := time.ParseDuration(getEnv("CACHE_TTL_ENTITY_STATS", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL_ENTITY_STATS: %w", err)
	}
	if cacheTTLEntityStats <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL_ENTITY_STATS must be > 0")
	}
	cacheTTLLeaderboard, err := time.ParseDuration(getEnv("CACHE_TTL_LEADERBOARD", "2h"))
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_TTL_LEADERBOARD: %w", err)
	}
	if cacheTTLLeaderboard <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL_LEADERBOARD must be > 0")
	}

	defaultRatePerSec, err := getEnvAsFloat("RATE_LIMIT_DEFAULT_PER_SEC", 10)
	if err != nil {
		return Config{}, fmt.Errorf("parse RATE_LIMIT_DEFAULT_PER_SEC: %w", err)
	}
	if defaultRatePerSec <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_DEFAULT_PER_SEC must be > 0")
	}
	defaultBurstCapacity, err := getEnvAsInt("RATE_LIMIT_DEFAULT_BURST", 20)
	if err != nil {
		return Config{}, fmt.Errorf("parse RATE_LIMIT_DEFAULT_BURST: %w", err)
	}
	if defaultBurstCapacity < 1 {
		return Config{}, fmt.Errorf("RATE_LIMIT_DEFAULT_BURST must be >= 1")
	}

	queryDeadline, err := time.ParseDuration(getEnv("QUERY_DEADLINE", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse QUERY_DEADLINE: %w", err)
	}
	if queryDeadline <= 0 {
		return Config{}, fmt.Errorf("QUERY_DEADLINE must be > 0")
	}

	circuitEnabled, err := strconv.ParseBool(getEnv("SOURCE_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SOURCE_CIRCUIT_ENABLED: %w", err)
	}
	circuitFailureCount, err := getEnvAsInt("SOURCE_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse SOURCE_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	if circuitFailureCount < 1 {
		return Config{}, fmt.Errorf("SOURCE_CIRCUIT_FAILURE_COUNT must be >= 1")
	}
	circuitOpenTimeout, err := time.ParseDuration(getEnv("SOURCE_CIRCUIT_OPEN_TIMEOUT", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SOURCE_CIRCUIT_OPEN_TIMEOUT: %w", err)
	}
	if circuitOpenTimeout <= 0 {
		return Config{}, fmt.Errorf("SOURCE_CIRCUIT_OPEN_TIMEOUT must be > 0")
	}
	circuitHalfOpenMaxReq, err := getEnvAsInt("SOURCE_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse SOURCE_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}
	if circuitHalfOpenMaxReq < 1 {
		return Config{}, fmt.Errorf("SOURCE_CIRCUIT_HALF_OPEN_MAX_REQ must be >= 1")
	}

	matchStrongMaxDistance, err := getEnvAsInt("MATCH_STRONG_MAX_DISTANCE", 4)
	if err != nil {
		return Config{}, fmt.Errorf("parse MATCH_STRONG_MAX_DISTANCE: %w", err)
	}
	if matchStrongMaxDistance < 1 {
		return Config{}, fmt.Errorf("MATCH_STRONG_MAX_DISTANCE must be >= 1")
	}
	matchWeakMinSimilarity, err := getEnvAsFloat("MATCH_WEAK_MIN_SIMILARITY", 0.55)
	if err != nil {
		return Config{}, fmt.Errorf("parse MATCH_WEAK_MIN_SIMILARITY: %w", err)
	}
	if matchWeakMinSimilarity <= 0 || matchWeakMinSimilarity >= 1 {
		return Config{}, fmt.Errorf("MATCH_WEAK_MIN_SIMILARITY must be in (0, 1)")
	}

	sources, err := parseSourceSpecs(getEnv("SOURCES", ""))
	if err != nil {
		return Config{}, fmt.Errorf("parse SOURCES: %w", err)
	}

	uptraceEnabled, err := strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	pyroscopeEnabled, err := strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := time.ParseDuration(getEnv("PYROSCOPE_UPLOAD_RATE", "15s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_UPLOAD_RATE: %w", err)
	}
	if pyroscopeUploadRate <= 0 {
		return Config{}, fmt.Errorf("PYROSCOPE_UPLOAD_RATE must be > 0")
	}

	pprofEnabled, err := strconv.ParseBool(getEnv("PPROF_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PPROF_ENABLED: %w", err)
	}
	pprofAddr := strings.TrimSpace(getEnv("PPROF_ADDR", ":6060"))
	if pprofEnabled && pprofAddr == "" {
		return Config{}, fmt.Errorf("PPROF_ADDR is required when PPROF_ENABLED=true")
	}

	cfg := Config{
		AppEnv:                  appEnv,
		ServiceName:             getEnv("APP_SERVICE_NAME", "prospect-stats-api"),
		ServiceVersion:          getEnv("APP_SERVICE_VERSION", "dev"),
		HTTPAddr:                getEnv("APP_HTTP_ADDR", ":8080"),
		ReadTimeout:             readTimeout,
		WriteTimeout:            writeTimeout,
		CORSAllowedOrigins:      splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:                parseLogLevel(getEnv("APP_LOG_LEVEL", "info")),
		DBEnabled:               dbEnabled,
		DBURL:                   dbURL,
		DBDisablePreparedBinary: dbDisablePreparedBinary,
		SnapshotKeepPerQuery:    snapshotKeepPerQuery,
		CacheSweepInterval:      cacheSweepInterval,
		CacheTTLSearch:          cacheTTLSearch,
		CacheTTLEntityStats:     cacheTTLEntityStats,
		CacheTTLLeaderboard:     cacheTTLLeaderboard,
		DefaultRatePerSec:       defaultRatePerSec,
		DefaultBurstCapacity:    defaultBurstCapacity,
		QueryDeadline:           queryDeadline,
		CircuitEnabled:          circuitEnabled,
		CircuitFailureCount:     circuitFailureCount,
		CircuitOpenTimeout:      circuitOpenTimeout,
		CircuitHalfOpenMaxReq:   circuitHalfOpenMaxReq,
		MatchStrongMaxDistance:  matchStrongMaxDistance,
		MatchWeakMinSimilarity:  matchWeakMinSimilarity,
		Sources:                 sources,
		InternalJobToken:        strings.TrimSpace(getEnv("INTERNAL_JOB_TOKEN", "")),
		UptraceEnabled:          uptraceEnabled,
		UptraceDSN:              uptraceDSN,
		PyroscopeEnabled:        pyroscopeEnabled,
		PyroscopeServerAddress:  pyroscopeServerAddress,
		PyroscopeAuthToken:      strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeUploadRate:     pyroscopeUploadRate,
		PprofEnabled:            pprofEnabled,
		PprofAddr:               pprofAddr,
	}
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_APP_NAME cannot be empty when PYROSCOPE_ENABLED=true")
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("CORS_ALLOWED_ORIGINS cannot be empty")
	}

	return cfg, nil
}

// parseSourceSpecs reads the SOURCES list: comma-separated items of
// "key", "key:rate", or "key:rate:burst". Rate and burst override the
// shared default bucket; a bare key draws from the shared bucket.
func parseSourceSpecs(raw string) ([]SourceSpec, error) {
	items := splitCSV(raw)
	out := make([]SourceSpec, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		segments := strings.SplitN(item, ":", 3)
		key := strings.TrimSpace(segments[0])
		if key == "" {
			return nil, fmt.Errorf("empty source key in item %q", item)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate source key %q", key)
		}
		seen[key] = struct{}{}

		spec := SourceSpec{Key: key}
		if len(segments) > 1 {
			rate, err := strconv.ParseFloat(strings.TrimSpace(segments[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid rate in item %q: %w", item, err)
			}
			if rate <= 0 {
				return nil, fmt.Errorf("rate must be > 0 in item %q", item)
			}
			spec.RatePerSec = rate
			spec.BurstCapacity = int(rate)
			if spec.BurstCapacity < 1 {
				spec.BurstCapacity = 1
			}
		}
		if len(segments) > 2 {
			burst, err := strconv.Atoi(strings.TrimSpace(segments[2]))
			if err != nil {
				return nil, fmt.Errorf("invalid burst in item %q: %w", item, err)
			}
			if burst < 1 {
				return nil, fmt.Errorf("burst must be >= 1 in item %q", item)
			}
			spec.BurstCapacity = burst
		}

		envKey := sourceEnvKey(key)
		spec.DisplayName = strings.TrimSpace(getEnv("SOURCE_"+envKey+"_DISPLAY_NAME", key))
		spec.BaseURL = strings.TrimSpace(getEnv("SOURCE_"+envKey+"_BASE_URL", ""))
		if spec.BaseURL == "" {
			return nil, fmt.Errorf("SOURCE_%s_BASE_URL is required for source %q", envKey, key)
		}
		spec.APIKey = strings.TrimSpace(getEnv("SOURCE_"+envKey+"_API_KEY", ""))

		timeout, err := time.ParseDuration(getEnv("SOURCE_"+envKey+"_TIMEOUT", "10s"))
		if err != nil {
			return nil, fmt.Errorf("parse SOURCE_%s_TIMEOUT: %w", envKey, err)
		}
		if timeout <= 0 {
			return nil, fmt.Errorf("SOURCE_%s_TIMEOUT must be > 0", envKey)
		}
		spec.Timeout = timeout

		ttls := []struct {
			suffix string
			dst    *time.Duration
		}{
			{"TTL_SEARCH", &spec.TTLSearch},
			{"TTL_STATS", &spec.TTLEntityStats},
			{"TTL_LEADERBOARD", &spec.TTLLeaderboard},
		}
		for _, ttl := range ttls {
			raw := strings.TrimSpace(getEnv("SOURCE_"+envKey+"_"+ttl.suffix, ""))
			if raw == "" {
				continue
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("parse SOURCE_%s_%s: %w", envKey, ttl.suffix, err)
			}
			if d <= 0 {
				return nil, fmt.Errorf("SOURCE_%s_%s must be > 0", envKey, ttl.suffix)
			}
			*ttl.dst = d
		}

		out = append(out, spec)
	}

	return out, nil
}

func sourceEnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
