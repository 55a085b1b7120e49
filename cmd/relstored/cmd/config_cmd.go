package cmd

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// configCmd represents the config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to manage the configuration",
	Long: `Commands to manage the relstored configuration.

Settings are read from relstored.yaml (in ".", "$HOME/.relstored" or "/etc/relstored", or the file
named by RELSTORED_CONFIG), then from RELSTORED_* environment variables, then from flags.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		o, err := config.marshalYAML()
		if err != nil {
			wrapFatalln("serialize config to yaml", err)
			return
		}
		fmt.Print(string(o))
	},
}

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a config file",
	Long:  "Write the effective configuration to $HOME/.relstored/relstored.yaml",
	Run: func(cmd *cobra.Command, args []string) {
		u, err := user.Current()
		if u == nil || err != nil {
			wrapFatalln("could not get home directory for user", err)
			return
		}
		target, err := writeConfig(config, filepath.Join(u.HomeDir, ".relstored"))
		if err != nil {
			wrapFatalln("write config file", err)
			return
		}
		infoLogger.Println("config written to", target)
	},
}

// marshalYAML renders settings with the same keys as flags and environment variables
func (c *Config) marshalYAML() ([]byte, error) {
	return yaml.Marshal(yaml.MapSlice{
		{Key: flagBaseDir, Value: c.BaseDir},
		{Key: flagListen, Value: c.Listen},
		{Key: flagRole, Value: c.Role},
		{Key: flagPrimaryURL, Value: c.PrimaryURL},
		{Key: flagLogLevel, Value: c.LogLevel},
		{Key: flagBlobBackend, Value: c.BlobBackend},
		{Key: flagS3Bucket, Value: c.S3Bucket},
		{Key: flagS3Prefix, Value: c.S3Prefix},
		{Key: flagS3Region, Value: c.S3Region},
		{Key: flagS3Endpoint, Value: c.S3Endpoint},
		{Key: flagMaxUpload, Value: c.MaxUploadSize},
		{Key: flagChangelogPoll, Value: c.ChangelogPoll.String()},
		{Key: flagFetchTimeout, Value: c.FetchTimeout.String()},
		{Key: flagFetchRate, Value: c.FetchRate},
		{Key: flagFetchBurst, Value: c.FetchBurst},
		{Key: flagMirrorUser, Value: c.MirrorUser},
		{Key: flagMirrorIndex, Value: c.MirrorIndex},
		{Key: flagServer, Value: c.Server},
	})
}

func writeConfig(c *Config, dir string) (string, error) {
	o, err := c.marshalYAML()
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	target := filepath.Join(dir, "relstored.yaml")
	return target, ioutil.WriteFile(target, o, 0600)
}

func init() {
	configCmd.AddCommand(configShowCmd, configCreateCmd)
	rootCmd.AddCommand(configCmd)
}
