// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap/zapcore"

	"github.com/orepool/operator/ledger"
	"github.com/orepool/operator/logging"
	"github.com/orepool/operator/operator"
	"github.com/orepool/operator/shared"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultDevReservoir   = 1_000_000_000
)

// boostEnvVars name the environment variables each holding one boost key.
var boostEnvVars = []string{"BOOST_ONE", "BOOST_TWO", "BOOST_THREE"}

// Config defines the configuration options of the pool operator.
//
//nolint:lll
type Config struct {
	PoolDir        string  `long:"pooldir"        description:"The base directory that contains the operator's data, logs, configuration file, etc."`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                                              short:"c"`
	DataDir        string  `long:"datadir"        description:"The directory to store the operator key within"                                         short:"b"`
	DbDir          string  `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir         string  `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics and health on"`
	DevReservoir   uint64  `long:"dev-reservoir"  description:"Initial reservoir of the in-memory development ledger"`

	Operator operator.Config `group:"Operator"`
	Ledger   ledger.Config   `group:"Ledger"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	poolDir := "./orepool"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		poolDir = filepath.Join(cacheDir, "orepool")
	}

	return &Config{
		PoolDir:        poolDir,
		DataDir:        filepath.Join(poolDir, defaultDataDirname),
		DbDir:          filepath.Join(poolDir, defaultDbDirName),
		LogDir:         filepath.Join(poolDir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DevReservoir:   defaultDevReservoir,
		Operator:       operator.DefaultConfig(),
		Ledger:         ledger.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided pool directory is not the default, we'll modify the
	// path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.PoolDir != defaultCfg.PoolDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.PoolDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.PoolDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.PoolDir, defaultDbDirName)
		}
	}

	if err := os.MkdirAll(cfg.PoolDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.PoolDir, err)
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	return cfg, nil
}

// Validate checks the operator and ledger settings.
func (c *Config) Validate() error {
	if err := c.Operator.Validate(); err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// addEnvBoosts appends the boosts set in BOOST_ONE..BOOST_THREE to the
// configured ones. Unset variables are skipped.
func (c *Config) addEnvBoosts(lookup func(string) (string, bool)) error {
	seen := make(map[shared.PublicKey]struct{}, len(c.Operator.Boosts))
	for _, b := range c.Operator.Boosts {
		seen[b] = struct{}{}
	}
	for _, name := range boostEnvVars {
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		boost, err := shared.ParsePublicKey(value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		if _, ok := seen[boost]; ok {
			continue
		}
		seen[boost] = struct{}{}
		c.Operator.Boosts = append(c.Operator.Boosts, boost)
	}
	return nil
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("pooldir", c.PoolDir)
	enc.AddString("datadir", c.DataDir)
	enc.AddString("dbdir", c.DbDir)
	enc.AddString("logdir", c.LogDir)
	if c.MetricsPort != nil {
		enc.AddUint16("metrics-port", *c.MetricsPort)
	}
	if err := enc.AddObject("operator", c.Operator); err != nil {
		return err
	}
	return enc.AddObject("ledger", c.Ledger)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
