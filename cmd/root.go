package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensvc/blkcache/core/rawconfig"
	"github.com/opensvc/blkcache/util/logging"
)

var (
	configFlag string
	colorFlag  string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:               "blkcache",
	Short:             "Maintain the cache of known block device identities.",
	PersistentPreRunE: persistentPreRunE,
}

func persistentPreRunE(_ *cobra.Command, _ []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.TimestampFieldName = "t"
	zerolog.LevelFieldName = "l"
	zerolog.MessageFieldName = "m"

	if debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := rawconfig.Load(viper.GetViper()); err != nil {
		return err
	}

	l := logging.Configure(logging.Config{
		WithConsoleLog: true,
		WithColor:      colorFlag != "no",
		WithLogFile:    true,
		Directory:      rawconfig.Config.Var,
		Filename:       "blkcache.log",
		MaxSize:        5,
		MaxBackups:     1,
		MaxAge:         30,
	}).
		With().
		Logger()
	log.Logger = l
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default \"$HOME/.blkcache.yaml\")")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", "auto", "output colorization yes|no|auto")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "show debug log")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if configFlag != "" {
		// Use config file from the flag.
		viper.SetConfigFile(configFlag)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".blkcache" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath("/etc/blkcache")
		viper.SetConfigName(".blkcache")
	}

	viper.SetEnvPrefix("BLKCACHE")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
