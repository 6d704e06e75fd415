// Package config holds the layered configuration of the client: built-in
// defaults, an optional config file, DTREE_* environment variables and
// command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pivot-spdz/dtree-client/pkg/field"
)

// EnvPrefix prefixes environment overrides, e.g. DTREE_ENGINES_PORT_BASE.
const EnvPrefix = "DTREE"

// Config is the effective client configuration.
type Config struct {
	Client   ClientConf   `mapstructure:"client" yaml:"client"`
	Engines  EngineConf   `mapstructure:"engines" yaml:"engines"`
	Setup    SetupConf    `mapstructure:"setup" yaml:"setup"`
	Data     DataConf     `mapstructure:"data" yaml:"data"`
	Training TrainingConf `mapstructure:"training" yaml:"training"`
	Log      LogConf      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConf  `mapstructure:"metrics" yaml:"metrics"`
}

// ClientConf identifies this client. Client 0 holds the labels.
type ClientConf struct {
	ID int `mapstructure:"id" yaml:"id"`
}

// EngineConf locates the SPDZ engines. Engine i listens on PortBase+i.
type EngineConf struct {
	Count       int           `mapstructure:"count" yaml:"count"`
	Hosts       []string      `mapstructure:"hosts" yaml:"hosts"`
	PortBase    int           `mapstructure:"port_base" yaml:"port_base"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	DialRetry   time.Duration `mapstructure:"dial_retry" yaml:"dial_retry"`
	// OpTimeout bounds each exchange with the engines. Zero waits forever.
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`
}

// SetupConf locates the shared field parameters.
type SetupConf struct {
	Root       string `mapstructure:"root" yaml:"root"`
	PrimeBits  int    `mapstructure:"prime_bits" yaml:"prime_bits"`
	GF2NDegree int    `mapstructure:"gf2n_degree" yaml:"gf2n_degree"`
	// Modulus, when set, replaces the setup file: a decimal prime or a preset
	// name such as secp256k1.
	Modulus string `mapstructure:"modulus" yaml:"modulus,omitempty"`
	Shift   uint   `mapstructure:"shift" yaml:"shift"`
}

// DataConf locates the local partition.
type DataConf struct {
	Root    string `mapstructure:"root" yaml:"root"`
	Dataset string `mapstructure:"dataset" yaml:"dataset"`
}

// TrainingConf tunes the protocol. Every client and engine must agree on it.
type TrainingConf struct {
	MaxSplits      int     `mapstructure:"max_splits" yaml:"max_splits"`
	TrainFraction  float64 `mapstructure:"train_fraction" yaml:"train_fraction"`
	OutputSize     int     `mapstructure:"output_size" yaml:"output_size"`
	BatchSize      int     `mapstructure:"batch_size" yaml:"batch_size"`
	AnnounceParams bool    `mapstructure:"announce_params" yaml:"announce_params"`
	TreeType       int     `mapstructure:"tree_type" yaml:"tree_type"`
}

// LogConf configures the run log.
type LogConf struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// MetricsConf configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConf struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("client.id", 0)
	v.SetDefault("engines.count", 3)
	v.SetDefault("engines.hosts", []string{"127.0.0.1"})
	v.SetDefault("engines.port_base", 20000)
	v.SetDefault("engines.dial_timeout", 10*time.Second)
	v.SetDefault("engines.dial_retry", time.Duration(0))
	v.SetDefault("engines.op_timeout", time.Duration(0))
	v.SetDefault("setup.root", "Player-Data")
	v.SetDefault("setup.prime_bits", 128)
	v.SetDefault("setup.gf2n_degree", 128)
	v.SetDefault("setup.modulus", "")
	v.SetDefault("setup.shift", 8)
	v.SetDefault("data.root", "data")
	v.SetDefault("data.dataset", "bank_marketing_data")
	v.SetDefault("training.max_splits", 8)
	v.SetDefault("training.train_fraction", 0.8)
	v.SetDefault("training.output_size", 1)
	v.SetDefault("training.batch_size", 1)
	v.SetDefault("training.announce_params", false)
	v.SetDefault("training.tree_type", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.path", "logs")
	v.SetDefault("metrics.listen", "")
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"hosts":          "engines.hosts",
	"dial-timeout":   "engines.dial_timeout",
	"dial-retry":     "engines.dial_retry",
	"op-timeout":     "engines.op_timeout",
	"setup-root":     "setup.root",
	"modulus":        "setup.modulus",
	"data-root":      "data.root",
	"batch-size":     "training.batch_size",
	"output-size":    "training.output_size",
	"announce":       "training.announce_params",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-path":       "log.path",
	"metrics-listen": "metrics.listen",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSlice("hosts", nil, "engine hosts, one per engine or a single host for all")
	fs.Duration("dial-timeout", 0, "deadline for connecting to all engines")
	fs.Duration("dial-retry", 0, "pause between connection attempts (0 disables retries)")
	fs.Duration("op-timeout", 0, "deadline per engine exchange (0 waits forever)")
	fs.String("setup-root", "", "directory holding <nparties>-<lg2p>-<gf2n>/Params-Data")
	fs.String("modulus", "", "prime modulus or preset name, overrides the setup file")
	fs.String("data-root", "", "directory holding <dataset>/client_<id>.txt")
	fs.Int("batch-size", 0, "values per triple round trip")
	fs.Int("output-size", 0, "number of result elements returned by the engines")
	fs.Bool("announce", false, "broadcast public training parameters first")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text, json)")
	fs.String("log-path", "", "directory for run log files")
	fs.String("metrics-listen", "", "address serving /metrics, empty disables")
}

// BindFlags binds the flags registered by RegisterFlags. Only flags set on
// the command line override lower layers.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("config: bind flag %s: %w", name, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Client.ID < 0 || uint64(c.Client.ID) > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("client.id must be in [0, %d], got %d", uint32(math.MaxUint32), c.Client.ID))
	}
	if c.Engines.Count < 2 {
		errs = append(errs, fmt.Errorf("engines.count must be at least 2, got %d", c.Engines.Count))
	}
	if n := len(c.Engines.Hosts); n != 1 && n < c.Engines.Count {
		errs = append(errs, fmt.Errorf("engines.hosts lists %d hosts for %d engines", len(c.Engines.Hosts), c.Engines.Count))
	}
	if c.Engines.PortBase < 1 || c.Engines.PortBase+c.Engines.Count-1 > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("engines.port_base %d out of range", c.Engines.PortBase))
	}
	if c.Engines.DialTimeout < 0 || c.Engines.DialRetry < 0 || c.Engines.OpTimeout < 0 {
		errs = append(errs, errors.New("engines timeouts must not be negative"))
	}
	if c.Setup.Modulus == "" && (c.Setup.PrimeBits < 2 || c.Setup.GF2NDegree < 0) {
		errs = append(errs, errors.New("setup.prime_bits and setup.gf2n_degree must be positive"))
	}
	if c.Setup.Shift == 0 || c.Setup.Shift > 64 {
		errs = append(errs, fmt.Errorf("setup.shift must be in [1, 64], got %d", c.Setup.Shift))
	}
	if c.Data.Dataset == "" {
		errs = append(errs, errors.New("data.dataset is required"))
	}
	if c.Training.MaxSplits < 1 {
		errs = append(errs, fmt.Errorf("training.max_splits must be positive, got %d", c.Training.MaxSplits))
	}
	if c.Training.TrainFraction <= 0 || c.Training.TrainFraction > 1 {
		errs = append(errs, fmt.Errorf("training.train_fraction must be in (0, 1], got %v", c.Training.TrainFraction))
	}
	if c.Training.OutputSize < 1 {
		errs = append(errs, fmt.Errorf("training.output_size must be positive, got %d", c.Training.OutputSize))
	}
	if c.Training.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// LabelHolder reports whether this client contributes the labels.
func (c *Config) LabelHolder() bool { return c.Client.ID == 0 }

// EngineHosts returns the host of each engine, in engine order. A single
// configured host serves every engine.
func (c *Config) EngineHosts() []string {
	if len(c.Engines.Hosts) == 1 {
		hosts := make([]string, c.Engines.Count)
		for i := range hosts {
			hosts[i] = c.Engines.Hosts[0]
		}
		return hosts
	}
	return append([]string(nil), c.Engines.Hosts[:c.Engines.Count]...)
}

// FieldParams loads the shared field, from Setup.Modulus when set and from
// the engines' setup file otherwise.
func (c *Config) FieldParams() (*field.Params, error) {
	if c.Setup.Modulus != "" {
		m, err := field.ParseModulus(c.Setup.Modulus)
		if err != nil {
			return nil, err
		}
		return field.NewParams(m, c.Setup.GF2NDegree, c.Setup.Shift)
	}
	path := field.SetupPath(c.Setup.Root, c.Engines.Count, c.Setup.PrimeBits, c.Setup.GF2NDegree)
	return field.LoadSetup(path, c.Setup.Shift)
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return enc.Close()
}
