package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the runtime configuration for the trade operations daemon.
// Values are read from the environment with a .env fallback for local runs.
type Config struct {
	LogLevel   string
	ListenAddr string

	// Journal storage. Backend is one of "file", "postgres", "badger".
	JournalBackend string
	JournalPath    string
	DatabaseDSN    string

	// Surveillance detector tuning.
	WashLookbackMinutes   int
	WashMinQuantity       string
	FrontRunWindowMinutes int
	FrontRunMinNotional   string
	MixerMaxHops          int
	MixerSeverityBase     int

	// Alert dedup window.
	DedupWindow time.Duration

	// Optional infrastructure. Empty values disable the integration.
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	ConfirmDir string
}

// Load reads configuration from the environment, applying defaults for
// anything unset. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LISTEN_ADDR", ":8085")
	v.SetDefault("JOURNAL_BACKEND", "file")
	v.SetDefault("JOURNAL_PATH", "data/worm.journal")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("WASH_LOOKBACK_MINUTES", 5)
	v.SetDefault("WASH_MIN_QUANTITY", "100")
	v.SetDefault("FRONT_RUN_WINDOW_MINUTES", 30)
	v.SetDefault("FRONT_RUN_MIN_NOTIONAL", "5000")
	v.SetDefault("MIXER_MAX_HOPS", 2)
	v.SetDefault("MIXER_SEVERITY_BASE", 90)
	v.SetDefault("DEDUP_WINDOW", "24h")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "surveillance.alerts")
	v.SetDefault("CONFIRM_DIR", "data/confirms")

	window, err := time.ParseDuration(v.GetString("DEDUP_WINDOW"))
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := v.GetString("KAFKA_BROKERS"); raw != "" {
		brokers = splitCSV(raw)
	}

	return &Config{
		LogLevel:              v.GetString("LOG_LEVEL"),
		ListenAddr:            v.GetString("LISTEN_ADDR"),
		JournalBackend:        v.GetString("JOURNAL_BACKEND"),
		JournalPath:           v.GetString("JOURNAL_PATH"),
		DatabaseDSN:           v.GetString("DATABASE_DSN"),
		WashLookbackMinutes:   v.GetInt("WASH_LOOKBACK_MINUTES"),
		WashMinQuantity:       v.GetString("WASH_MIN_QUANTITY"),
		FrontRunWindowMinutes: v.GetInt("FRONT_RUN_WINDOW_MINUTES"),
		FrontRunMinNotional:   v.GetString("FRONT_RUN_MIN_NOTIONAL"),
		MixerMaxHops:          v.GetInt("MIXER_MAX_HOPS"),
		MixerSeverityBase:     v.GetInt("MIXER_SEVERITY_BASE"),
		DedupWindow:           window,
		RedisAddr:             v.GetString("REDIS_ADDR"),
		KafkaBrokers:          brokers,
		KafkaTopic:            v.GetString("KAFKA_TOPIC"),
		ConfirmDir:            v.GetString("CONFIRM_DIR"),
	}, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
