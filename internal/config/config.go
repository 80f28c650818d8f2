package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nomercy/ranked-backend/internal/models"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis (optional: team history, vote side-effect guard, event fan-out)
	RedisURL string

	// JWT
	JWTSecret string

	// CORS
	CORSAllowedOrigins []string

	// Matchmaking
	Matchmaking MatchmakingConfig
	RankedModes []models.RankedMode

	// Anti-cheat presence service
	PresenceURL     string
	PresenceAPIKey  string
	PresenceTimeout time.Duration

	// Discord voice provisioning
	DiscordToken          string
	DiscordGuildID        string
	DiscordCategoryPrefix string

	// Rate limiting for queue join/leave
	QueueRateCapacity   int64
	QueueRateRefillRate int64
}

// MatchmakingConfig engine timings and ledger bounds
type MatchmakingConfig struct {
	CountdownDuration time.Duration
	DraftTurnDuration time.Duration
	MapVoteDuration   time.Duration
	QueueTimeout      time.Duration
	SweepInterval     time.Duration
	FormationTimeout  time.Duration
	HistorySize       int
	HistoryWindow     time.Duration
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS",
			"http://localhost:3000,http://localhost:5173")),
		Matchmaking: MatchmakingConfig{
			CountdownDuration: parseDuration(getEnv("MM_COUNTDOWN", "120s"), 120*time.Second),
			DraftTurnDuration: parseDuration(getEnv("MM_DRAFT_TURN", "10s"), 10*time.Second),
			MapVoteDuration:   parseDuration(getEnv("MM_MAP_VOTE", "30s"), 30*time.Second),
			QueueTimeout:      parseDuration(getEnv("MM_QUEUE_TIMEOUT", "15m"), 15*time.Minute),
			SweepInterval:     parseDuration(getEnv("MM_SWEEP_INTERVAL", "30s"), 30*time.Second),
			FormationTimeout:  parseDuration(getEnv("MM_FORMATION_TIMEOUT", "10s"), 10*time.Second),
			HistorySize:       parseInt(getEnv("MM_HISTORY_SIZE", "10"), 10),
			HistoryWindow:     parseDuration(getEnv("MM_HISTORY_WINDOW", "30m"), 30*time.Minute),
		},
		PresenceURL:           getEnv("PRESENCE_URL", ""),
		PresenceAPIKey:        getEnv("PRESENCE_API_KEY", ""),
		PresenceTimeout:       parseDuration(getEnv("PRESENCE_TIMEOUT", "3s"), 3*time.Second),
		DiscordToken:          getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordGuildID:        getEnv("DISCORD_GUILD_ID", ""),
		DiscordCategoryPrefix: getEnv("DISCORD_CATEGORY_PREFIX", "Ranked Match"),
		QueueRateCapacity:     int64(parseInt(getEnv("QUEUE_RATE_CAPACITY", "5"), 5)),
		QueueRateRefillRate:   int64(parseInt(getEnv("QUEUE_RATE_REFILL", "1"), 1)),
	}

	modes, err := loadRankedModes(getEnv("RANKED_MODES_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.RankedModes = modes

	return cfg, nil
}

// loadRankedModes reads mode definitions from a JSON file, falling back to defaults.
func loadRankedModes(path string) ([]models.RankedMode, error) {
	if path == "" {
		return DefaultRankedModes(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranked modes file: %w", err)
	}

	var modes []models.RankedMode
	if err := json.Unmarshal(data, &modes); err != nil {
		return nil, fmt.Errorf("failed to parse ranked modes file: %w", err)
	}
	for _, m := range modes {
		if len(m.TeamSizes) == 0 {
			return nil, fmt.Errorf("ranked mode %q has no team sizes", m.Name)
		}
	}
	return modes, nil
}

// DefaultRankedModes built-in ladder configuration
func DefaultRankedModes() []models.RankedMode {
	sndMaps := []string{"Arsenal", "Bazaar", "Citadel", "Foundry", "Harbor"}
	return []models.RankedMode{
		{
			Name:      "hardcore",
			Enabled:   true,
			TeamSizes: []int{4, 5},
			GameModes: []models.GameMode{
				{Name: "Search & Destroy", Maps: sndMaps},
				{Name: "Hardpoint", Maps: []string{"Arsenal", "Foundry", "Harbor"}},
			},
		},
		{
			Name:      "core",
			Enabled:   true,
			TeamSizes: []int{4},
			GameModes: []models.GameMode{
				{Name: "Search & Destroy", Maps: sndMaps},
				{Name: "Gunfight", Maps: []string{"Shipment"}},
			},
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
