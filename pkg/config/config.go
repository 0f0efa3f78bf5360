// Package config loads the YAML configuration shared by the sequencer,
// relayer and conductor daemons, with ${VAR_NAME} environment variable
// substitution applied before parsing.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "30s", "2m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Dur returns the time.Duration value.
func (d Duration) Dur() time.Duration {
	return time.Duration(d)
}

// SequencerConfig configures the sequencer daemon (pkg/app + pkg/mempool).
type SequencerConfig struct {
	ChainID        string `yaml:"chain_id"`
	DataDir        string `yaml:"data_dir"`
	ListenAddr     string `yaml:"listen_addr"`
	HealthAddr     string `yaml:"health_addr"`
	TxServiceAddr  string `yaml:"tx_service_addr"`
	MaxTxBytes     int64  `yaml:"max_tx_bytes"`

	Mempool MempoolSettings `yaml:"mempool"`
	Upgrade UpgradeSettings `yaml:"upgrade"`
}

// MempoolSettings configures pkg/mempool container limits.
type MempoolSettings struct {
	ParkedSizeLimit   int      `yaml:"parked_size_limit"`
	RemovalCacheSize  int      `yaml:"removal_cache_size"`
	TransactionTTL    Duration `yaml:"transaction_ttl"`
	MaintenanceTick   Duration `yaml:"maintenance_tick"`
}

// UpgradeSettings names the height at which the authority module migrates
// from the aggregated validator-set record to the per-validator layout.
type UpgradeSettings struct {
	ValidatorSetMigrationHeight uint64 `yaml:"validator_set_migration_height"`
}

// RelayerConfig configures the relayer daemon (pkg/relayer).
type RelayerConfig struct {
	SequencerGRPCAddr  string   `yaml:"sequencer_grpc_addr"`
	DARPCAddr          string   `yaml:"da_rpc_addr"`
	DAAuthToken        string   `yaml:"da_auth_token"`
	SequencerNamespace string   `yaml:"sequencer_namespace"`
	RollupIDFilter     []string `yaml:"rollup_id_filter"`
	ValidatorAddress   string   `yaml:"validator_address"`
	OnlyOwnBlocks      bool     `yaml:"only_own_blocks"`
	StateDir           string   `yaml:"state_dir"`
	HealthAddr         string   `yaml:"health_addr"`
	MinReadyPeers      int      `yaml:"min_ready_peers"`

	Backoff BackoffSettings `yaml:"backoff"`
}

// ConductorConfig configures the conductor daemon (pkg/conductor).
type ConductorConfig struct {
	SequencerGRPCAddr     string   `yaml:"sequencer_grpc_addr"`
	DARPCAddr             string   `yaml:"da_rpc_addr"`
	DAAuthToken           string   `yaml:"da_auth_token"`
	ExecutionGRPCAddr     string   `yaml:"execution_grpc_addr"`
	CelestiaChainID       string   `yaml:"celestia_chain_id"`
	SequencerChainID      string   `yaml:"sequencer_chain_id"`
	SequencerNamespace    string   `yaml:"sequencer_namespace"`
	RollupNamespace       string   `yaml:"rollup_namespace"`
	Mode                  string   `yaml:"mode"` // "soft_only" | "firm_only" | "soft_and_firm"
	MaxLookAhead          uint64   `yaml:"max_celestia_search_height_look_ahead"`
	HealthAddr            string   `yaml:"health_addr"`

	Backoff BackoffSettings `yaml:"backoff"`
}

// BackoffSettings bounds the exponential-backoff retry policy for remote calls.
type BackoffSettings struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	MaxElapsedTime  Duration `yaml:"max_elapsed_time"`
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadSequencerConfig loads the sequencer daemon's YAML configuration.
func LoadSequencerConfig(path string) (*SequencerConfig, error) {
	cfg := &SequencerConfig{
		TxServiceAddr: "127.0.0.1:26659",
		MaxTxBytes:    256 * 1024,
		Mempool: MempoolSettings{
			ParkedSizeLimit:  15,
			RemovalCacheSize: 4096,
			TransactionTTL:   Duration(240 * time.Second),
			MaintenanceTick:  Duration(2 * time.Second),
		},
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ChainID == "" || strings.HasPrefix(cfg.ChainID, "${") {
		return nil, fmt.Errorf("chain_id is required")
	}
	return cfg, nil
}

// LoadRelayerConfig loads the relayer daemon's YAML configuration.
func LoadRelayerConfig(path string) (*RelayerConfig, error) {
	cfg := &RelayerConfig{
		StateDir:      "./data/relayer",
		MinReadyPeers: 1,
		Backoff: BackoffSettings{
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(60 * time.Second),
			MaxElapsedTime:  Duration(0),
		},
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if cfg.DARPCAddr == "" {
		return nil, fmt.Errorf("da_rpc_addr is required")
	}
	return cfg, nil
}

// LoadConductorConfig loads the conductor daemon's YAML configuration.
func LoadConductorConfig(path string) (*ConductorConfig, error) {
	cfg := &ConductorConfig{
		Mode: "soft_and_firm",
		Backoff: BackoffSettings{
			InitialInterval: Duration(time.Second),
			MaxInterval:     Duration(60 * time.Second),
			MaxElapsedTime:  Duration(0),
		},
	}
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Mode == "soft_and_firm" || cfg.Mode == "firm_only" {
		if cfg.MaxLookAhead == 0 {
			return nil, fmt.Errorf("max_celestia_search_height_look_ahead must be > 0 when firm confirmation is enabled")
		}
	}
	return cfg, nil
}
