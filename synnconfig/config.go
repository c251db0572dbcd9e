// Package synnconfig is the viper-based configuration loader, adapted
// from the teacher's pkg/config/config.go to the node/validator/
// discovery fields this module actually needs.
package synnconfig

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-node/pkg/utils"
)

// Config is the unified configuration for a synnergyd node.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id"`
		ListenAddr     string   `mapstructure:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	} `mapstructure:"network"`

	Consensus struct {
		BlockTimeoutMS int `mapstructure:"block_timeout_ms"`
		HealthCheckMS  int `mapstructure:"health_check_ms"`
		MaxMisses      int `mapstructure:"max_misses"`
	} `mapstructure:"consensus"`

	Discovery struct {
		RPCTimeoutMS  int `mapstructure:"rpc_timeout_ms"`
		Parallelism   int `mapstructure:"parallelism"`
		NumResults    int `mapstructure:"num_results"`
	} `mapstructure:"discovery"`

	Logging struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads default.yaml from cmd/config or config and merges an environment
// specific override, the same precedence the teacher's Load(env) uses.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}
