// Package cli implements the goaudit command.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. GOAUDIT_STORE.
const EnvPrefix = "GOAUDIT"

// NewRootCommand builds the command tree. Each call returns an independent
// tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "goaudit",
		Short: "Asynchronous audit trail persistence",
		Long: `goaudit runs an audit trail backed by a memory, redis or postgres store.

Settings come from flags, a config file (--config) and GOAUDIT_* environment
variables, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, json or toml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, console)")
	bindStoreFlags(pf)
	bindTrailFlags(pf)

	root.AddCommand(newServeCommand(v), newLoadtestCommand(v), newLintCommand(v))
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}
