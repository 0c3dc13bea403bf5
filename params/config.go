package params

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	// Addr is the listen address of the REST/WebSocket server.
	Addr string
}

type Market struct {
	// Pairs to register at startup, as "COLLECTION/DENOM" symbols.
	Pairs []string
	// DefaultDenom is used when a pair omits the denomination.
	DefaultDenom string
}

type Config struct {
	// DataDir holds the Pebble databases and the log file.
	DataDir string
	LogFile string
	API     API
	Market  Market
}

func Default() Config {
	return Config{
		DataDir: "data",
		LogFile: "data/marketd.log",
		API:     API{Addr: ":8080"},
		Market: Market{
			Pairs:        []string{"PUNKS/USD"},
			DefaultDenom: "USD",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.LogFile = logFile
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.Addr = addr
	}
	if denom := os.Getenv("DEFAULT_DENOM"); denom != "" {
		cfg.Market.DefaultDenom = denom
	}

	// Pairs from comma-separated list, e.g. "PUNKS/USD,APES/USD"
	if pairs := os.Getenv("MARKET_PAIRS"); pairs != "" {
		cfg.Market.Pairs = cfg.Market.Pairs[:0]
		for _, p := range strings.Split(pairs, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if !strings.Contains(p, "/") {
				p = p + "/" + cfg.Market.DefaultDenom
			}
			cfg.Market.Pairs = append(cfg.Market.Pairs, p)
		}
	}

	return cfg
}
