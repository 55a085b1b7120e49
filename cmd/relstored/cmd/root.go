// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relstored",
	Short: "Content addressed store for release files",
	Long: `relstored stores release files under their content hash, fetches mirrored files
from their origin on demand, and keeps replicas in sync with a primary.

A primary accepts uploads and serves a changelog; replicas follow that changelog
and forward missing content requests to the primary.`,
	SilenceUsage: true,
}

var config *Config

// used to patch over calls to os.Exit() during test
var (
	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String(flagLogLevel, defaultLogLevel, "log level: debug, info, warn, error or none")
	mustBind(rootCmd.PersistentFlags().Lookup(flagLogLevel))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()
	if os.Getenv("RELSTORED_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("RELSTORED_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.relstored")
		viper.AddConfigPath("/etc/relstored")
		viper.SetConfigName("relstored")
	}

	viper.SetEnvPrefix("RELSTORED")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}

	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
	}
}
