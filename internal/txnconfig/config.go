// Package txnconfig binds the configuration keys listed in spec.md §6 to a
// typed struct via viper, following the same Load/SetDefault/BindEnv shape
// as the teacher's internal/config package.
package txnconfig

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// ReplicationMode selects whether replies wait for replication acks.
type ReplicationMode string

const (
	ReplicationAsync    ReplicationMode = "ASYNC"
	ReplicationSemiSync ReplicationMode = "SEMISYNC"
)

// Config is the typed form of spec.md §6's configuration-key table.
type Config struct {
	ReplicationMode                ReplicationMode `mapstructure:"replication_mode"`
	ReplicationTimeoutIntervalSec  int             `mapstructure:"replication_timeout_interval_sec"`
	TransactionTimeoutLimitSec     int             `mapstructure:"transaction_timeout_limit_sec"`
	MinTxnTimeoutSec               int             `mapstructure:"min_txn_timeout_sec"`
	StableTxnTimeoutSec            int             `mapstructure:"stable_txn_timeout_sec"`
	ConnectionLimit                int             `mapstructure:"connection_limit"`
	PartitionCount                 int             `mapstructure:"partition_count"`
	PartitionGroupCount            int             `mapstructure:"partition_group_count"`
	ReplyCacheSize                 int             `mapstructure:"reply_cache_size"`
	Keepalive                      KeepaliveConfig `mapstructure:"keepalive"`
}

// KeepaliveConfig mirrors spec.md §6's keepalive_* keys, which the core
// treats as opaque (TCP-level, not core logic).
type KeepaliveConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	IdleSec      int  `mapstructure:"idle_sec"`
	IntervalSec  int  `mapstructure:"interval_sec"`
	ProbeCount   int  `mapstructure:"probe_count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("replication_mode", string(ReplicationAsync))
	v.SetDefault("replication_timeout_interval_sec", 30)
	v.SetDefault("transaction_timeout_limit_sec", 30)
	v.SetDefault("min_txn_timeout_sec", 1)
	v.SetDefault("stable_txn_timeout_sec", 30)
	v.SetDefault("connection_limit", 256)
	v.SetDefault("partition_count", 16)
	v.SetDefault("partition_group_count", 4)
	v.SetDefault("reply_cache_size", 4096)
	v.SetDefault("keepalive.enabled", true)
	v.SetDefault("keepalive.idle_sec", 60)
	v.SetDefault("keepalive.interval_sec", 15)
	v.SetDefault("keepalive.probe_count", 3)
}

// Load reads configPath (if non-empty) or the default search locations,
// overlays TXNMGR_-prefixed environment variables, and returns a validated
// Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = os.Getenv("TXNMGR_CONFIG")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("txnmgr")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config/")
		v.AddConfigPath("./")
		v.AddConfigPath("/etc/txnmgr/")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TXNMGR")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("txnconfig: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("txnconfig: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("txnconfig: %w", err)
	}
	return &cfg, nil
}

// Validate enforces the ranges spec.md §6 documents for each key.
func (c *Config) Validate() error {
	if c.ReplicationMode != ReplicationAsync && c.ReplicationMode != ReplicationSemiSync {
		return fmt.Errorf("replication_mode must be ASYNC or SEMISYNC, got %q", c.ReplicationMode)
	}
	if c.ReplicationTimeoutIntervalSec < 1 {
		return fmt.Errorf("replication_timeout_interval_sec must be >= 1")
	}
	if c.TransactionTimeoutLimitSec < 1 {
		return fmt.Errorf("transaction_timeout_limit_sec must be >= 1")
	}
	if c.ConnectionLimit < 3 || c.ConnectionLimit > 65536 {
		return fmt.Errorf("connection_limit must be in [3, 65536], got %d", c.ConnectionLimit)
	}
	if c.PartitionCount < 1 {
		return fmt.Errorf("partition_count must be >= 1")
	}
	if c.PartitionGroupCount < 1 {
		return fmt.Errorf("partition_group_count must be >= 1")
	}
	return nil
}
