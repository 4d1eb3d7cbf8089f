package mortality

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultUser   = "default"
	DefaultListen = ":8080"
)

// LoadConfig reads MORTALITY_* variables, loading a .env file first if one exists.
// An empty MORTALITY_RPC_URL leaves the RPC unset, which disables every chain operation.
func LoadConfig() Config {
	_ = godotenv.Load()

	home, _ := os.UserHomeDir()
	maxTip, err := strconv.ParseFloat(os.Getenv("MORTALITY_JITO_TIP"), 64)
	if err != nil || maxTip <= 0 {
		maxTip = float64(DefaultMaxTip) / LamportsPerSOL
	}

	return Config{
		RPC:         os.Getenv("MORTALITY_RPC_URL"),
		BlockEngine: env("MORTALITY_BLOCK_ENGINE", BlockEngine),
		TipFloorURL: env("MORTALITY_TIP_FLOOR_URL", TipFloorURL),
		MaxTip:      maxTip,
		DbPath:      env("MORTALITY_DB", filepath.Join(home, ".mortality", "wallets.db")),
		User:        env("MORTALITY_USER", DefaultUser),
		Listen:      env("MORTALITY_LISTEN", DefaultListen),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
