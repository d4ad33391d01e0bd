package cli

import (
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/config"
	"github.com/faanross/simulacra_png/internal/logging"
)

// CommonFlags are registered by every command.
type CommonFlags struct {
	ConfigPath string
	Verbose    bool
	LogFile    string
}

// AddFlags registers --config, --verbose and --log-file.
func (c *CommonFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ConfigPath, "config", "", "YAML config file")
	fs.BoolVarP(&c.Verbose, "verbose", "v", false, "debug logging")
	fs.StringVar(&c.LogFile, "log-file", "", "also write JSON logs to this rotating file")
}

// Setup loads configuration and builds the logger. Command-line flags win
// over the config file and environment.
func (c *CommonFlags) Setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if c.Verbose {
		cfg.Log.Level = "debug"
	}
	if c.LogFile != "" {
		cfg.Log.File = c.LogFile
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		FilePath:    cfg.Log.File,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
