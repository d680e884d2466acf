// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
	"github.com/xkilldash9x/applypilot/internal/observability"
)

// settings is the configuration shared by one command tree. Each tree owns its own
// viper instance so tests can build as many as they like.
type settings struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	cfg     *config.Config
	// bindings maps viper keys to flag names, per command.
	bindings map[*cobra.Command]map[string]string
}

func newSettings() *settings {
	s := &settings{v: viper.New(), bindings: make(map[*cobra.Command]map[string]string)}
	config.SetDefaults(s.v)
	return s
}

// NewRootCommand builds the applypilot command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newSettings())
}

func newRootCommand(s *settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "applypilot",
		Short:         "applypilot fills in and submits Easy Apply job applications.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := s.bind(cmd); err != nil {
				return err
			}
			if err := s.load(); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "applypilot"})
				return err
			}
			observability.InitializeLogger(s.cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", s.v.ConfigFileUsed()))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&s.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	flags.StringVar(&s.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console or json)")
	s.bindFlags(rootCmd, map[string]string{
		"logger.level":  "log-level",
		"logger.format": "log-format",
	})

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(newApplyCmd(s), newExplainCmd(s), newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with ctx. SIGINT and SIGTERM are expected to cancel
// ctx; a running apply stops starting work and lets open attempts unwind.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted.")
		} else {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
	}
	observability.Sync()
	return err
}

// load reads the dotenv file, the config file and the environment, in that order of
// increasing precedence below flags.
func (s *settings) load() error {
	if s.envFile != "" {
		path, err := homedir.Expand(s.envFile)
		if err != nil {
			return fmt.Errorf("expand env file path: %w", err)
		}
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading env file %s: %w", path, err)
		}
	}

	if s.cfgFile != "" {
		path, err := homedir.Expand(s.cfgFile)
		if err != nil {
			return fmt.Errorf("expand config path: %w", err)
		}
		s.v.SetConfigFile(path)
	} else {
		s.v.AddConfigPath(".")
		s.v.SetConfigName("config")
		s.v.SetConfigType("yaml")
	}

	s.v.SetEnvPrefix("APPLYPILOT")
	s.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	s.v.AutomaticEnv()

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(s.v)
	if err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// bindFlags records which viper key each of cmd's flags overrides. The binding is
// applied only when cmd runs, so commands may bind different flags to one key.
func (s *settings) bindFlags(cmd *cobra.Command, keys map[string]string) {
	s.bindings[cmd] = keys
}

// bind applies the bindings of cmd and its ancestors. Only flags set on the command
// line are bound; a flag left at its default never hides a file or env value.
func (s *settings) bind(cmd *cobra.Command) error {
	for c := cmd; c != nil; c = c.Parent() {
		for key, name := range s.bindings[c] {
			flag := cmd.Flags().Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := s.v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}
	return nil
}
