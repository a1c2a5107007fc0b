package helpers

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/remoteprof/internal/config"
	"github.com/coral-mesh/remoteprof/internal/constants"
	"github.com/coral-mesh/remoteprof/internal/duckdb"
	"github.com/coral-mesh/remoteprof/internal/logging"
	"github.com/coral-mesh/remoteprof/internal/store"
)

// GlobalFlags are the persistent flags shared by every command. Flags that
// were set on the command line override the config file and environment.
type GlobalFlags struct {
	ConfigDir   string
	LogLevel    string
	LogPretty   bool
	StoreDriver string
	StorePath   string
}

// AddFlags registers the global flags on a persistent FlagSet.
func (f *GlobalFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.ConfigDir, "config-dir", "", "Base directory holding "+constants.DefaultDir+" (default: $"+constants.ConfigDirEnv+" or home)")
	flags.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&f.LogPretty, "log-pretty", false, "Human-readable log output")
	flags.StringVar(&f.StoreDriver, "store", "", "Recording store driver (duckdb, memory)")
	flags.StringVar(&f.StorePath, "store-path", "", "DuckDB recording store file")
}

// Env is the resolved configuration and logger of one command invocation.
type Env struct {
	Loader *config.Loader
	Config *config.Config
	Logger zerolog.Logger
}

// Loader returns the config loader selected by --config-dir.
func (f *GlobalFlags) Loader() *config.Loader {
	if f.ConfigDir != "" {
		return config.NewLoaderAt(f.ConfigDir)
	}
	return config.NewLoader()
}

// Load resolves the configuration: defaults, config file, environment, then
// the flags of flags that were changed.
func (f *GlobalFlags) Load(flags *pflag.FlagSet) (*Env, error) {
	loader := f.Loader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if flags.Changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if flags.Changed("log-pretty") {
		pretty := f.LogPretty
		cfg.Log.Pretty = &pretty
	}
	if flags.Changed("store") {
		cfg.Store.Driver = f.StoreDriver
		if cfg.Store.Driver == constants.StoreDuckDB && cfg.Store.Path == "" {
			cfg.Store.Path = loader.DatabasePath()
		}
	}
	if flags.Changed("store-path") {
		cfg.Store.Path = f.StorePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	if cfg.Log.Pretty != nil {
		logCfg.Pretty = *cfg.Log.Pretty
	}
	return &Env{
		Loader: loader,
		Config: cfg,
		Logger: logging.New(logCfg),
	}, nil
}

// OpenStore opens the configured recording store.
func (e *Env) OpenStore() (store.Store, error) {
	switch e.Config.Store.Driver {
	case constants.StoreMemory:
		return store.NewMemory(), nil
	case constants.StoreDuckDB:
		return store.OpenDuckDB(e.Config.Store.Path, duckdb.Options{
			Threads:     e.Config.Store.Threads,
			MemoryLimit: e.Config.Store.MemoryLimit,
		}, e.Logger)
	}
	return nil, fmt.Errorf("unknown store driver %q", e.Config.Store.Driver)
}
