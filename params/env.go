package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// APIKeys gates the premium RPC providers. A provider is only used when its
// key (or full endpoint URL) is present.
type APIKeys struct {
	Alchemy   string
	Infura    string
	QuickNode string
}

// EnvOverrides lists the environment variables understood by walletd.
type EnvOverrides struct {
	AlchemyAPIKey     string `env:"ALCHEMY_API_KEY"`
	InfuraAPIKey      string `env:"INFURA_API_KEY"`
	QuickNodeEndpoint string `env:"QUICKNODE_ENDPOINT"`
	Network           string `env:"WALLETD_NETWORK"`
	Embedded          string `env:"WALLETD_EMBEDDED"`
	DataDir           string `env:"WALLETD_DATA_DIR"`
	LogLevel          string `env:"WALLETD_LOG_LEVEL"`
	RedisURL          string `env:"WALLETD_REDIS_URL"`
}

// APIKeys returns the premium provider keys found in the environment.
func (e EnvOverrides) APIKeys() APIKeys {
	return APIKeys{
		Alchemy:   e.AlchemyAPIKey,
		Infura:    e.InfuraAPIKey,
		QuickNode: e.QuickNodeEndpoint,
	}
}

// LoadEnv loads the given dotenv files (missing files are skipped) and decodes
// the process environment.
func LoadEnv(files ...string) (EnvOverrides, error) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return EnvOverrides{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var env EnvOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return EnvOverrides{}, fmt.Errorf("decode environment: %w", err)
	}
	return env, nil
}

// ApplyEnv overlays non-empty environment values on the configuration.
func (c *Config) ApplyEnv(env EnvOverrides) error {
	if env.Network != "" {
		c.RPC.Network = strings.ToLower(env.Network)
	}
	if env.Embedded != "" {
		embedded, err := strconv.ParseBool(env.Embedded)
		if err != nil {
			return fmt.Errorf("WALLETD_EMBEDDED: %w", err)
		}
		c.RPC.Embedded = embedded
	}
	if env.DataDir != "" {
		c.DataDir = env.DataDir
	}
	if env.LogLevel != "" {
		c.LogSettings.Level = strings.ToUpper(env.LogLevel)
	}
	if env.RedisURL != "" {
		c.Sync.RedisURL = env.RedisURL
	}
	return nil
}
