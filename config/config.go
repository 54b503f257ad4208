// Package config reads the service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Config holds every setting the service reads at startup.
type Config struct {
	ListenAddr  string
	Debug       bool
	CORSOrigins []string

	DatabaseURL string

	AuthSecret   string
	AuthDomain   string
	AuthAudience string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	ModelTimeout  time.Duration

	RedisConn  string
	CacheTTL   time.Duration
	DeduperTTL time.Duration

	StorageConn     string
	TaskEventsQueue string
	ActivityTable   string
	EventWorkers    int
	EventBuffer     int

	ChatRatePerMinute int
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		ListenAddr:      ":8080",
		CORSOrigins:     []string{"*"},
		DatabaseURL:     get("DATABASE_URL"),
		AuthSecret:      get("AUTH_JWT_SECRET"),
		AuthDomain:      get("AUTH0_DOMAIN"),
		AuthAudience:    get("AUTH0_AUDIENCE"),
		OpenAIKey:       get("OPENAI_API_KEY"),
		OpenAIBaseURL:   get("OPENAI_BASE_URL"),
		OpenAIModel:     get("OPENAI_MODEL"),
		RedisConn:       get("REDIS_CONNECTION_STRING"),
		StorageConn:     get("STORAGE_CONNECTION_STRING"),
		TaskEventsQueue: "task-events",
		ActivityTable:   "activity",
	}
	if v := get("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	} else if v := get("FUNCTIONS_CUSTOMHANDLER_PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := get("TASK_EVENTS_QUEUE"); v != "" {
		cfg.TaskEventsQueue = v
	}
	if v := get("ACTIVITY_TABLE"); v != "" {
		cfg.ActivityTable = v
	}
	if v := get("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := get("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEBUG: %w", err)
		}
		cfg.Debug = dbg
	}

	var err error
	if cfg.ModelTimeout, err = envDur(get, "MODEL_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDur(get, "CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = envDur(get, "DEDUPER_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.EventWorkers, err = envInt(get, "EVENT_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.EventBuffer, err = envInt(get, "EVENT_BUFFER", 64); err != nil {
		return Config{}, err
	}
	if cfg.ChatRatePerMinute, err = envInt(get, "CHAT_RATE_PER_MINUTE", 20); err != nil {
		return Config{}, err
	}

	if cfg.AuthSecret == "" && (cfg.AuthDomain == "" || cfg.AuthAudience == "") {
		return Config{}, errors.New("missing auth config: set AUTH_JWT_SECRET or AUTH0_DOMAIN and AUTH0_AUDIENCE")
	}
	return cfg, nil
}

func envInt(get func(string) string, key string, def int) (int, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(get func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RedisOptions accepts either a redis:// URL or the Azure style "host:port,password=...,ssl=True".
func RedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
