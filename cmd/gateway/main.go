package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"keyslot-gateway/middleware/keyslot"
	"keyslot-gateway/middleware/keyslot/domain"
	"keyslot-gateway/middleware/keyslot/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	pool, err := infra.NewPool(cfg.slotTotal, cfg.slotCooldown)
	if err != nil {
		log.Fatalf("pool error: %v", err)
	}

	var statsStore domain.StatsStore
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis stats ping error: %v", err)
		}

		statsStore = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackSlots(cfg.statsTrackSlots),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	status := http.Handler(keyslot.StatusHandler(pool))
	if cfg.pollEnabled {
		pollStore := infra.NewPollStore(cfg.pollRPS, cfg.pollBurst)
		pollStore.StartJanitor(ctx)
		status = keyslot.PollLimitMiddleware(keyslot.PollOptions{
			Store:              pollStore,
			KeyHeader:          cfg.pollKeyHeader,
			TrustXForwardedFor: cfg.trustXFF,
			RejectStatus:       http.StatusTooManyRequests,
			RetryAfter:         cfg.pollRetryAfter,
			AddPollHeaders:     cfg.addPollHeaders,
		})(status)
	}

	gated := keyslot.Middleware(keyslot.Options{
		Scheduler:      pool,
		Stats:          statsStore,
		TaskType:       cfg.taskType,
		TaskTypeHeader: cfg.taskTypeHeader,
		TaskIDHeader:   cfg.taskIDHeader,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.acquireTimeout,
	})(proxy)

	mux := http.NewServeMux()
	mux.Handle(cfg.statusPath, status)
	mux.Handle("/", gated)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// o upstream pode segurar o slot por chamadas longas de geração
		WriteTimeout: cfg.writeTimeout,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("keyslot: total=%d cooldown=%s acquireTimeout=%s taskType=%q", cfg.slotTotal, cfg.slotCooldown, cfg.acquireTimeout, cfg.taskType)
	log.Printf("status: path=%q pollEnabled=%v rps=%.3f burst=%d", cfg.statusPath, cfg.pollEnabled, cfg.pollRPS, cfg.pollBurst)
	log.Printf("stats: enabled=%v redisAddr=%q bucket=%q ttl=%s trackSlots=%v", cfg.statsEnabled, cfg.statsRedisAddr, cfg.statsBucket, cfg.statsTTL, cfg.statsTrackSlots)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr  string
	upstreamURL string

	slotTotal      int
	slotCooldown   time.Duration
	acquireTimeout time.Duration
	taskType       string
	taskTypeHeader string
	taskIDHeader   string

	statusPath     string
	pollEnabled    bool
	pollRPS        float64
	pollBurst      int
	pollKeyHeader  string
	trustXFF       bool
	pollRetryAfter time.Duration
	addPollHeaders bool

	writeTimeout time.Duration

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackSlots    bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.slotTotal = getenvIntDefault("KEYSLOT_TOTAL", 5)
	// IMPORTANTE: o cooldown modela o rate limit por credencial do provedor.
	// Baixar demais faz o provedor devolver 429 e o gateway perder a conta.
	cfg.slotCooldown = getenvDurationDefault("KEYSLOT_COOLDOWN", 30*time.Second)
	cfg.acquireTimeout = getenvDurationDefault("KEYSLOT_ACQUIRE_TIMEOUT", 0)
	cfg.taskType = getenvDefault("KEYSLOT_TASK_TYPE", "upstream_call")
	cfg.taskTypeHeader = os.Getenv("KEYSLOT_TASK_TYPE_HEADER")
	cfg.taskIDHeader = getenvDefault("KEYSLOT_TASK_ID_HEADER", "X-Task-Id")

	cfg.statusPath = getenvDefault("STATUS_PATH", "/queue/status")
	cfg.pollEnabled = getenvBoolDefault("POLL_ENABLED", true)
	cfg.pollRPS = getenvFloatDefault("POLL_RPS", 2)
	cfg.pollBurst = getenvIntDefault("POLL_BURST", 5)
	cfg.pollKeyHeader = os.Getenv("POLL_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.pollRetryAfter = getenvDurationDefault("POLL_RETRY_AFTER", 1*time.Second)
	cfg.addPollHeaders = getenvBoolDefault("ADD_POLL_HEADERS", false)

	cfg.writeTimeout = getenvDurationDefault("WRITE_TIMEOUT", 120*time.Second)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsRedisAddr = getenvDefault("STATS_REDIS_ADDR", "")
	cfg.statsRedisPassword = os.Getenv("STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "keyslot:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackSlots = getenvBoolDefault("STATS_TRACK_SLOTS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.slotTotal < 1 {
		return config{}, errors.New("KEYSLOT_TOTAL must be >= 1")
	}
	if cfg.slotCooldown < 0 {
		return config{}, errors.New("KEYSLOT_COOLDOWN must be >= 0")
	}
	if cfg.pollEnabled {
		if cfg.pollRPS <= 0 {
			return config{}, errors.New("POLL_RPS must be > 0")
		}
		if cfg.pollBurst <= 0 {
			return config{}, errors.New("POLL_BURST must be > 0")
		}
	}
	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("STATS_REDIS_ADDR is required when STATS_ENABLED=true")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
