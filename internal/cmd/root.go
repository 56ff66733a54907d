package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/spotbridge/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "spotbridge",
	Short: "Run external segmentation tools as spot detectors",
	Long: `Spotbridge runs Python segmentation tools such as Cellpose and StarDist
in their own managed environments, hands them an image through shared
memory and turns the label images they produce into spots.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default "+config.ConfigFile()+")")
	flags.String("log-level", "", "log level ("+strings.Join(config.ValidLogLevels(), ", ")+")")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
}

// initConfig layers defaults, the config file and SPOTBRIDGE_* variables
// into viper. A missing config file is fine; a malformed one is reported.
func initConfig() {
	config.SetDefaults()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}
	config.BindEnv()

	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: ignoring config file: %v\n", err)
	}
}

