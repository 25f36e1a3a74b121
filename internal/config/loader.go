package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, reads .env when present
// and applies MACROSIM_* environment overrides. An empty path or a missing
// file yields the defaults plus overrides. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Simulation.Households, "MACROSIM_HOUSEHOLDS")
	setInt(&cfg.Simulation.Firms, "MACROSIM_FIRMS")
	setInt64(&cfg.Simulation.Seed, "MACROSIM_SEED")
	setBool(&cfg.Simulation.RandomSeed, "MACROSIM_RANDOM_SEED")
	setStr(&cfg.Simulation.EntropyKey, "RANDOM_ORG_API_KEY")

	setFloat64(&cfg.Household.PropensityToConsume, "MACROSIM_MPC")
	setFloat64(&cfg.Firm.Productivity, "MACROSIM_PRODUCTIVITY")

	setFloat64(&cfg.Fiscal.VATRate, "MACROSIM_VAT_RATE")
	setFloat64(&cfg.Fiscal.WelfarePayment, "MACROSIM_WELFARE")
	setFloat64(&cfg.Fiscal.Spending, "MACROSIM_GOVT_SPENDING")
	setBool(&cfg.Fiscal.Countercyclical, "MACROSIM_COUNTERCYCLICAL")

	setFloat64(&cfg.Monetary.InterestRate, "MACROSIM_INTEREST_RATE")
	setBool(&cfg.Monetary.AutoPolicy, "MACROSIM_AUTO_POLICY")

	setBool(&cfg.Narration.Enabled, "MACROSIM_NARRATION")
	setStr(&cfg.Narration.APIKey, "ANTHROPIC_API_KEY")

	setFloat64(&cfg.Noise.Amplitude, "MACROSIM_NOISE_AMPLITUDE")

	setInt(&cfg.Server.Port, "MACROSIM_PORT")
	setStr(&cfg.Server.AdminKey, "MACROSIM_ADMIN_KEY")
	setInt(&cfg.Server.IntervalMS, "MACROSIM_INTERVAL_MS")
	setStringSlice(&cfg.Server.CORSOrigins, "MACROSIM_CORS_ORIGINS")

	setStr(&cfg.Storage.Path, "MACROSIM_DB_PATH")
	setStr(&cfg.CalibrationPath, "MACROSIM_CALIBRATION")
	setStr(&cfg.LogLevel, "MACROSIM_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	*dst = cleaned
}
