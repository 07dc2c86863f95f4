// Package config holds the configuration surface of spec §6: one struct
// per consumer (DatabaseFlags, MempoolConfig, VertexLimitsConfig,
// StateHashTreeGcConfig), collected under a single loader rather than
// passed piecemeal. The teacher has no analogous single config package —
// every component takes its own `Config` struct (`manager.Config`,
// `log.Config`, `worker.Config`) — so this package keeps that same
// per-consumer shape rather than inventing one mega-struct.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// DatabaseFlags gates optional local indexes. Spec invariant: enabling
// the account-change index requires the execution index; flipping the
// execution-index flag across runs must fail startup rather than
// silently produce a half-populated index.
type DatabaseFlags struct {
	EnableLocalTransactionExecutionIndex bool `yaml:"enable_local_transaction_execution_index"`
	EnableAccountChangeIndex             bool `yaml:"enable_account_change_index"`
}

// Validate enforces the flag dependency.
func (f DatabaseFlags) Validate() error {
	if f.EnableAccountChangeIndex && !f.EnableLocalTransactionExecutionIndex {
		return fmt.Errorf("config: enable_account_change_index requires enable_local_transaction_execution_index")
	}
	return nil
}

// MempoolConfig bounds the priority mempool's total footprint.
type MempoolConfig struct {
	MaxTransactionCount      uint32            `yaml:"max_transaction_count"`
	MaxTotalTransactionsSize datasize.ByteSize `yaml:"max_total_transactions_size"`
}

// VertexLimitsConfig bounds what the Preparator may pack into one vertex
// (spec §4.G). All four are hard ceilings.
type VertexLimitsConfig struct {
	MaxTransactionCount                 uint32            `yaml:"max_transaction_count"`
	MaxTotalTransactionSize             datasize.ByteSize `yaml:"max_total_transaction_size"`
	MaxTotalExecutionCostUnitsConsumed  uint64            `yaml:"max_total_execution_cost_units_consumed"`
	MaxTotalRejectedExecutionCostUnits  uint64            `yaml:"max_total_rejected_execution_cost_units"`
}

// StateHashTreeGcConfig drives pkg/statetree's GC. IntervalSeconds should
// be much shorter than the wall-clock span StateVersionHistoryLength
// covers, to keep the retained-history window precise.
type StateHashTreeGcConfig struct {
	IntervalSeconds          int    `yaml:"interval_sec"`
	StateVersionHistoryLength uint64 `yaml:"state_version_history_length"`
}

// Config is the top-level, file-loadable configuration bundle.
type Config struct {
	Database  DatabaseFlags          `yaml:"database"`
	Mempool   MempoolConfig          `yaml:"mempool"`
	Vertex    VertexLimitsConfig     `yaml:"vertex_limits"`
	StateGC   StateHashTreeGcConfig  `yaml:"state_hash_tree_gc"`
	DataDir   string                 `yaml:"data_dir"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: parse %s: %w", path, err)
	}
	if err := cfg.Database.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a Config with the sizes and limits a single-node
// development deployment would use.
func Default() Config {
	return Config{
		Mempool: MempoolConfig{
			MaxTransactionCount:      20_000,
			MaxTotalTransactionsSize: 200 * datasize.MB,
		},
		Vertex: VertexLimitsConfig{
			MaxTransactionCount:                50,
			MaxTotalTransactionSize:             1 * datasize.MB,
			MaxTotalExecutionCostUnitsConsumed:  100_000_000,
			MaxTotalRejectedExecutionCostUnits:  10_000_000,
		},
		StateGC: StateHashTreeGcConfig{
			IntervalSeconds:           60,
			StateVersionHistoryLength: 100_000,
		},
		DataDir: "./data",
	}
}
