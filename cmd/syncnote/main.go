package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/syncnote/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "syncnote",
		Short:        "Offline-first notes sync engine and reference server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newSyncCommand(),
		newStatusCommand(),
		newTokenCommand(),
		newCollectionCommand(),
		newNoteCommand(),
		newItemCommand(),
		newListCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("database-path", defaults.GetString(config.KeyDatabasePath), "Local SQLite database path")
	cmd.PersistentFlags().String("remote-url", defaults.GetString(config.KeyRemoteBaseURL), "Sync server base URL")
	cmd.PersistentFlags().String("remote-token", "", "Bearer token for the sync server (overrides env)")
	cmd.PersistentFlags().Int("remote-timeout-seconds", defaults.GetInt(config.KeyRemoteTimeoutSeconds), "Per-request timeout in seconds")
	cmd.PersistentFlags().Int("remote-max-response-mb", defaults.GetInt(config.KeyRemoteMaxResponseMB), "Largest accepted server response in MiB")
	cmd.PersistentFlags().String("http-address", defaults.GetString(config.KeyHTTPAddress), "HTTP listen address of the server")
	cmd.PersistentFlags().String("server-database-path", defaults.GetString(config.KeyServerDatabasePath), "Server SQLite database path")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt(config.KeyTokenTTLMinutes), "Issued token TTL in minutes")

	bindFlag(cmd, config.KeyLogLevel, "log-level")
	bindFlag(cmd, config.KeyDatabasePath, "database-path")
	bindFlag(cmd, config.KeyRemoteBaseURL, "remote-url")
	bindFlag(cmd, config.KeyRemoteToken, "remote-token")
	bindFlag(cmd, config.KeyRemoteTimeoutSeconds, "remote-timeout-seconds")
	bindFlag(cmd, config.KeyRemoteMaxResponseMB, "remote-max-response-mb")
	bindFlag(cmd, config.KeyHTTPAddress, "http-address")
	bindFlag(cmd, config.KeyServerDatabasePath, "server-database-path")
	bindFlag(cmd, config.KeyAuthSigningSecret, "signing-secret")
	bindFlag(cmd, config.KeyTokenTTLMinutes, "token-ttl-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
