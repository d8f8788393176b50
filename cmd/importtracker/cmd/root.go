package cmd

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/armadaproject/importtracker/internal/common"
	"github.com/armadaproject/importtracker/internal/common/logging"
	"github.com/armadaproject/importtracker/internal/importtracker"
	"github.com/armadaproject/importtracker/internal/importtracker/configuration"
)

const (
	defaultConfigPath = "./config/importtracker"
	configFlag        = "config"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "importtracker",
		Short:         "importtracker admits imports onto a message queue and tracks their status",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSlice(
		configFlag,
		[]string{},
		"Fully qualified path to application configuration files (for multiple config files repeat this arg or separate paths with commas)",
	)
	cmd.PersistentFlags().String("subsystem", "", "Subsystem whose channels this instance consumes; overrides the config file")

	app := importtracker.New(&configuration.ImportTrackerConfiguration{})
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd, app)
	}
	cmd.AddCommand(
		runCmd(app),
		fakeWorkerCmd(app),
	)
	return cmd
}

// initConfig loads the base config, any --config overrides, environment overrides and flags on
// top of the defaults, then reconfigures logging from the result.
func initConfig(cmd *cobra.Command, app *importtracker.App) error {
	overrides, err := cmd.Flags().GetStringSlice(configFlag)
	if err != nil {
		return errors.WithStack(err)
	}
	config := importtracker.DefaultConfiguration
	if _, err := common.LoadConfig(&config, defaultConfigPath, overrides, cmd.Flags()); err != nil {
		return err
	}
	if err := logging.ConfigureLogging(config.Logging); err != nil {
		return err
	}
	*app.Config = config
	log.WithField("subsystem", config.Subsystem).Debug("configuration loaded")
	return nil
}
