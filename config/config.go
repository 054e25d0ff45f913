// Package config loads the two configuration surfaces spec §6 names: a set of
// environment variables bound through viper (broker connection, timing constants)
// and a YAML file of per-run options (algorithm selection, domain size, seed).
// Grounded on reinforcement.FromYaml's viper+yaml.v3 load path, generalized from a
// single TrainingConfig blob into an env-plus-YAML split since this runtime, unlike
// the teacher's, has secrets (broker credentials) that don't belong in a checked-in
// YAML file.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ddcop/dcop"
	"ddcop/dgc"
)

// Env holds the deployment-level settings of spec §6's environment variable list:
// broker connection details and the timing constants shared by every agent.
type Env struct {
	Domain         string
	BrokerURL      string
	BrokerPort     int
	BrokerUsername string
	BrokerPassword string
	LearningRate   float64

	// HandlerCommExecDelaySeconds is loaded from HANDLER_COMM_EXEC_DELAY_IN_SECONDS
	// (spec §6); no handler's run time is checked against it.
	HandlerCommExecDelaySeconds float64
	// AgentCommTimeoutSeconds is halved to derive both the DGC quiet window and the
	// ping period (spec §9's Open Question resolution).
	AgentCommTimeoutSeconds  float64
	PingProcCallDelaySeconds float64
	MaxPingCount             int
}

// RuntimeOptions is the per-run YAML document of spec §6: algorithm selection, the
// size of each agent's domain, the optimization direction, and a reproducibility
// seed, matching reinforcement.TrainingConfig's role as "algorithmic parameters
// outside of code".
type RuntimeOptions struct {
	DcopAlgorithm  string `yaml:"dcop_algorithm"`
	GraphAlgorithm string `yaml:"graph_algorithm"`
	DomainSize     int    `yaml:"domain_size"`
	OptimizationOp string `yaml:"optimization_op"`
	Seed           int64  `yaml:"seed"`
	ExecutionMode  string `yaml:"execution_mode"`
}

// Config is the fully-loaded configuration an entrypoint needs to build a run.
type Config struct {
	Env     Env
	Runtime RuntimeOptions
}

// envVarNames lists exactly the environment variables spec §6 names, each bound
// explicitly via BindEnv -- AutomaticEnv alone does not back Unmarshal, only direct
// Get calls, so every key the Env struct needs is bound up front.
var envVarNames = []string{
	"DOMAIN", "BROKER_URL", "BROKER_PORT", "BROKER_USERNAME", "BROKER_PASSWORD",
	"LEARNING_RATE", "HANDLER_COMM_EXEC_DELAY_IN_SECONDS", "AGENT_COMM_TIMEOUT_IN_SECONDS",
	"PING_PROC_CALL_DELAY_IN_SECONDS", "MAX_PING_COUNT",
}

// envDefaults mirrors the environment variables spec §6 lists, so a missing .env or
// unset variable still yields a runnable (if conservative) configuration rather than
// zero values that silently break timing math.
var envDefaults = map[string]any{
	"DOMAIN":                            "default",
	"BROKER_PORT":                       5672,
	"LEARNING_RATE":                     0.1,
	"HANDLER_COMM_EXEC_DELAY_IN_SECONDS": 1.0,
	"AGENT_COMM_TIMEOUT_IN_SECONDS":      10.0,
	"PING_PROC_CALL_DELAY_IN_SECONDS":    5.0,
	"MAX_PING_COUNT":                    3,
}

// Load reads the environment variables of spec §6 and, if yamlPath is non-empty, the
// per-run YAML options file, the way reinforcement.FromYaml reads a single config
// blob -- split across two viper instances here since env vars and a YAML file are
// different sources with different reload semantics.
func Load(yamlPath string) (*Config, error) {
	envViper := viper.New()
	for _, name := range envVarNames {
		if err := envViper.BindEnv(name); err != nil {
			return nil, fmt.Errorf("bind env var %s: %w", name, err)
		}
	}
	for k, v := range envDefaults {
		envViper.SetDefault(k, v)
	}

	env := Env{
		Domain:                      envViper.GetString("DOMAIN"),
		BrokerURL:                   envViper.GetString("BROKER_URL"),
		BrokerPort:                  envViper.GetInt("BROKER_PORT"),
		BrokerUsername:              envViper.GetString("BROKER_USERNAME"),
		BrokerPassword:              envViper.GetString("BROKER_PASSWORD"),
		LearningRate:                envViper.GetFloat64("LEARNING_RATE"),
		HandlerCommExecDelaySeconds: envViper.GetFloat64("HANDLER_COMM_EXEC_DELAY_IN_SECONDS"),
		AgentCommTimeoutSeconds:     envViper.GetFloat64("AGENT_COMM_TIMEOUT_IN_SECONDS"),
		PingProcCallDelaySeconds:    envViper.GetFloat64("PING_PROC_CALL_DELAY_IN_SECONDS"),
		MaxPingCount:                envViper.GetInt("MAX_PING_COUNT"),
	}

	cfg := &Config{Env: env}

	if yamlPath == "" {
		return cfg, nil
	}

	runtimeViper := viper.New()
	runtimeViper.SetConfigFile(filepath.Base(yamlPath))
	runtimeViper.SetConfigType("yaml")
	runtimeViper.AddConfigPath(filepath.Dir(yamlPath))
	if err := runtimeViper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read runtime options %s: %w", yamlPath, err)
	}

	raw, err := yaml.Marshal(runtimeViper.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("remarshal runtime options: %w", err)
	}
	var opts RuntimeOptions
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("unmarshal runtime options: %w", err)
	}
	cfg.Runtime = opts

	return cfg, nil
}

// TraversalOrder resolves the configured dcop_algorithm string to the dgc.TraversalOrder
// the graph builder must follow -- CoCoA (and any unrecognized value) expects top-down
// start_dcop, DPOP and C-DPOP expect bottom-up, per spec §4.4/§4.5.
func (c *Config) TraversalOrder() dgc.TraversalOrder {
	switch c.Runtime.DcopAlgorithm {
	case "dpop", "c-dpop":
		return dgc.TraversalOrder(dcop.BottomUp)
	default:
		return dgc.TraversalOrder(dcop.TopDown)
	}
}

// OptimizationOp resolves the configured optimization_op string; unrecognized or
// empty values default to Min, matching spec §6's listed enum order.
func (c *Config) OptimizationOp() dcop.OptimizationOp {
	if c.Runtime.OptimizationOp == "max" {
		return dcop.Max
	}
	return dcop.Min
}

// QuietWindow and PingPeriod both derive from AGENT_COMM_TIMEOUT_IN_SECONDS / 2, per
// spec §9's resolution of the DIGCA/DBFS timing-constant Open Question.
func (c *Config) QuietWindow() time.Duration {
	return time.Duration(c.Env.AgentCommTimeoutSeconds/2*1000) * time.Millisecond
}

func (c *Config) PingPeriod() time.Duration {
	return c.QuietWindow()
}
