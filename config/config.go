// Package config loads the prover host configuration from a file, the
// environment (XPROOF_ prefix) and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/viper"

	"github.com/eth2030/xproof/batch"
	"github.com/eth2030/xproof/chain"
	"github.com/eth2030/xproof/log"
)

// EnvPrefix prefixes every environment override, e.g.
// XPROOF_PROVER_BACKEND or XPROOF_CHAINS_OPTIMISM_RPC.
const EnvPrefix = "XPROOF"

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Endpoints are the data sources of one chain. Only chains with an RPC
// URL are used.
type Endpoints struct {
	RPC string `mapstructure:"rpc"`
	// Beacon and Checkpoint are read for beacon chains only.
	Beacon     string `mapstructure:"beacon"`
	Checkpoint string `mapstructure:"checkpoint"`
	// Sequencer is read for OP-Stack chains only.
	Sequencer string `mapstructure:"sequencer"`
}

// Prover configures the proving backend and the driver's retry policy.
type Prover struct {
	Backend      string        `mapstructure:"backend"`
	RemoteURL    string        `mapstructure:"remote_url"`
	APIKey       string        `mapstructure:"api_key"`
	Version      string        `mapstructure:"version"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// Witness tunes witness collection.
type Witness struct {
	GameLookback     uint64 `mapstructure:"game_lookback"`
	ProofConcurrency int    `mapstructure:"proof_concurrency"`
}

// Config holds the full host configuration.
type Config struct {
	// Network selects the chains endpoints may be given for (mainnet,
	// sepolia).
	Network   string `mapstructure:"network"`
	Submitter string `mapstructure:"submitter"`
	// Chains maps chain names, as in the chain registry, to endpoints.
	Chains  map[string]Endpoints `mapstructure:"chains"`
	Prover  Prover               `mapstructure:"prover"`
	Witness Witness              `mapstructure:"witness"`
	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// Default returns a Config with sensible defaults and no endpoints.
func Default() *Config {
	return &Config{
		Network:   string(chain.Mainnet),
		Submitter: batch.SubmitterSelf.String(),
		Chains:    make(map[string]Endpoints),
		Prover: Prover{
			Backend:      BackendLocal,
			PollInterval: 5 * time.Second,
			Timeout:      30 * time.Minute,
			RetryBackoff: 10 * time.Second,
		},
		Witness: Witness{
			GameLookback:     64,
			ProofConcurrency: 8,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load reads the configuration into v. path names an optional config
// file in any format viper reads; flags already bound to v win over
// both the file and the environment.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	// Drop the placeholder entries registered for env lookups.
	for name, ep := range cfg.Chains {
		if ep == (Endpoints{}) {
			delete(cfg.Chains, name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with v. AutomaticEnv only resolves keys
// viper already knows, so each known chain gets empty endpoint keys.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("network", d.Network)
	v.SetDefault("submitter", d.Submitter)
	v.SetDefault("prover.backend", d.Prover.Backend)
	v.SetDefault("prover.remote_url", d.Prover.RemoteURL)
	v.SetDefault("prover.api_key", d.Prover.APIKey)
	v.SetDefault("prover.version", d.Prover.Version)
	v.SetDefault("prover.poll_interval", d.Prover.PollInterval)
	v.SetDefault("prover.timeout", d.Prover.Timeout)
	v.SetDefault("prover.max_retries", d.Prover.MaxRetries)
	v.SetDefault("prover.retry_backoff", d.Prover.RetryBackoff)
	v.SetDefault("witness.game_lookback", d.Witness.GameLookback)
	v.SetDefault("witness.proof_concurrency", d.Witness.ProofConcurrency)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	for _, list := range [][]*chain.Params{chain.MainnetChains(), chain.SepoliaChains()} {
		for _, p := range list {
			for _, key := range []string{"rpc", "beacon", "checkpoint", "sequencer"} {
				v.SetDefault("chains."+p.Name+"."+key, "")
			}
		}
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if _, err := chain.NewNetworkRegistry(chain.Network(c.Network)); err != nil {
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	if _, err := batch.ParseSubmitter(c.Submitter); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Prover.Backend {
	case BackendLocal:
	case BackendRemote:
		if c.Prover.RemoteURL == "" {
			return errors.New("config: remote backend needs prover.remote_url")
		}
		if c.Prover.APIKey == "" {
			return errors.New("config: remote backend needs prover.api_key")
		}
	default:
		return fmt.Errorf("config: unknown prover backend %q", c.Prover.Backend)
	}
	if c.Prover.PollInterval <= 0 {
		return fmt.Errorf("config: invalid poll interval: %v", c.Prover.PollInterval)
	}
	if c.Prover.Timeout < 0 {
		return fmt.Errorf("config: invalid prover timeout: %v", c.Prover.Timeout)
	}
	if c.Prover.MaxRetries < 0 || c.Prover.RetryBackoff < 0 {
		return fmt.Errorf("config: invalid retry policy: %d retries, %v backoff", c.Prover.MaxRetries, c.Prover.RetryBackoff)
	}
	if c.Witness.ProofConcurrency < 0 {
		return fmt.Errorf("config: invalid proof concurrency: %d", c.Witness.ProofConcurrency)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	_, err := c.Endpoints()
	return err
}

// Endpoints resolves the configured chains against the network's
// registry, keyed by chain id.
func (c *Config) Endpoints() (map[uint64]Endpoints, error) {
	reg, err := chain.NewNetworkRegistry(chain.Network(c.Network))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	byName := make(map[string]*chain.Params)
	for _, id := range reg.IDs() {
		p, _ := reg.Lookup(id)
		byName[p.Name] = p
	}
	out := make(map[uint64]Endpoints)
	for name, ep := range c.Chains {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("config: chain %q is not on %s", name, c.Network)
		}
		if ep.RPC == "" {
			return nil, fmt.Errorf("config: chain %s: no rpc url", name)
		}
		switch p.Family {
		case chain.FamilyBeacon:
			if ep.Beacon == "" {
				// Without a beacon api the chain is relayed, if it can be.
				if p.Relay == nil {
					return nil, fmt.Errorf("config: chain %s: no beacon api url", name)
				}
				relay, err := reg.Lookup(p.Relay.ChainID)
				if err != nil {
					return nil, fmt.Errorf("config: chain %s: %w", name, err)
				}
				if _, ok := c.Chains[relay.Name]; !ok {
					return nil, fmt.Errorf("config: chain %s: no beacon api url and relay chain %s not configured", name, relay.Name)
				}
				break
			}
			if _, err := ep.CheckpointRoot(); err != nil {
				return nil, fmt.Errorf("config: chain %s: %w", name, err)
			}
		case chain.FamilyOPStack:
			if ep.Sequencer == "" {
				return nil, fmt.Errorf("config: chain %s: no sequencer endpoint", name)
			}
		}
		out[p.ID] = ep
	}
	return out, nil
}

// CheckpointRoot parses the trusted beacon block root.
func (e *Endpoints) CheckpointRoot() (common.Hash, error) {
	b, err := hexutil.Decode(e.Checkpoint)
	if err != nil {
		return common.Hash{}, fmt.Errorf("checkpoint root: %w", err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("checkpoint root is %d bytes", len(b))
	}
	return common.BytesToHash(b), nil
}
