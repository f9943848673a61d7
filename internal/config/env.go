package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Env holds process-level settings read from the environment. These cover
// deployment concerns (addresses, file paths) as opposed to the engine
// tuning values in TuningConfig.
type Env struct {
	ListenAddr string // PLATEWATCH_LISTEN
	DBPath     string // PLATEWATCH_DB
	TuningPath string // PLATEWATCH_TUNING (optional JSON file)
}

// LoadEnv reads optional .env files and returns the environment settings.
// Missing .env files are not an error; variables already set in the process
// environment take precedence.
func LoadEnv(paths ...string) Env {
	// godotenv.Load never overrides existing variables.
	_ = godotenv.Load(paths...)

	return Env{
		ListenAddr: envOr("PLATEWATCH_LISTEN", ":8080"),
		DBPath:     envOr("PLATEWATCH_DB", "platewatch.db"),
		TuningPath: os.Getenv("PLATEWATCH_TUNING"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
