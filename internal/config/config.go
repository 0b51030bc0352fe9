package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/clock"
)

type AppConfig struct {
	HTTPAddr string
	WSAddr   string

	RedisURL    string
	DatabaseURL string

	ClockTick         time.Duration
	MachineReplyDelay time.Duration
	SettleTimeout     time.Duration
	ReconcileInterval time.Duration
	LobbyTTL          time.Duration
	ChallengeTTL      time.Duration

	EloKFactor         float64
	DefaultRating      int
	ChatMaxLen         int
	DefaultTimeControl clock.TimeControl
	DefaultDifficulty  string

	// EngineSeed makes easy machine moves repeatable when set.
	EngineSeed    int64
	HasEngineSeed bool

	MessagesDir string
	// OpeningBookPath points at a Polyglot .bin used by the machine opponent.
	OpeningBookPath string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:           ":8080",
		WSAddr:             ":8081",
		ClockTick:          100 * time.Millisecond,
		MachineReplyDelay:  500 * time.Millisecond,
		SettleTimeout:      5 * time.Second,
		ReconcileInterval:  30 * time.Second,
		LobbyTTL:           time.Hour,
		ChallengeTTL:       10 * time.Minute,
		EloKFactor:         32,
		DefaultRating:      1200,
		ChatMaxLen:         500,
		DefaultTimeControl: clock.TimeControl{InitialMs: 600000},
		DefaultDifficulty:  "medium",
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.OpeningBookPath = strings.TrimSpace(os.Getenv("OPENING_BOOK_PATH"))

	var errs []error
	millis := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid milliseconds %q", key, v))
			return
		}
		*dst = time.Duration(n) * time.Millisecond
	}
	positive := func(key string, dst *int) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid value %q", key, v))
			return
		}
		*dst = n
	}

	millis("CLOCK_TICK_MS", &cfg.ClockTick)
	millis("MACHINE_REPLY_DELAY_MS", &cfg.MachineReplyDelay)
	millis("SETTLE_TIMEOUT_MS", &cfg.SettleTimeout)
	millis("RECONCILE_INTERVAL_MS", &cfg.ReconcileInterval)
	positive("DEFAULT_RATING", &cfg.DefaultRating)
	positive("CHAT_MAX_LEN", &cfg.ChatMaxLen)

	var lobbyMin int
	positive("LOBBY_TTL_MIN", &lobbyMin)
	if lobbyMin > 0 {
		cfg.LobbyTTL = time.Duration(lobbyMin) * time.Minute
	}
	var challengeMin int
	positive("CHALLENGE_TTL_MIN", &challengeMin)
	if challengeMin > 0 {
		cfg.ChallengeTTL = time.Duration(challengeMin) * time.Minute
	}

	if v := strings.TrimSpace(os.Getenv("ELO_K_FACTOR")); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil || k <= 0 {
			errs = append(errs, fmt.Errorf("ELO_K_FACTOR: invalid value %q", v))
		} else {
			cfg.EloKFactor = k
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_CONTROL")); v != "" {
		tc, err := clock.ParseTimeControl(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("DEFAULT_TIME_CONTROL: %w", err))
		} else {
			cfg.DefaultTimeControl = tc
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_DIFFICULTY")); v != "" {
		cfg.DefaultDifficulty = v
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SEED")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("ENGINE_SEED: invalid value %q", v))
		} else {
			cfg.EngineSeed, cfg.HasEngineSeed = n, true
		}
	}

	if cfg.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if cfg.ClockTick <= 0 {
		errs = append(errs, errors.New("CLOCK_TICK_MS must be positive"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}
