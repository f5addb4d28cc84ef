// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"github.com/nexus-im/dm/internal/config"
)

var cfgFile string

// Execute adds all child commands to the root command and runs it. It is
// called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootCmd runs the server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:          "nexus",
	Short:        "Direct messaging backend",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Path to a config file (yaml, json or toml)")

	rootCmd.PersistentFlags().String("addr", ":8080", "http service address")
	_ = viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))

	rootCmd.PersistentFlags().String("db-driver", "postgres", "Database driver: postgres or sqlite3")
	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))

	rootCmd.PersistentFlags().String("db-url", "", "Database URL or SQLite file path")
	_ = viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("db-url"))

	rootCmd.PersistentFlags().StringP("log-level", "v", "info", "Log level: info, debug or trace")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("log", "l", "-", "Path to the log output path (- is stdout)")
	_ = viper.BindPFlag("log.path", rootCmd.PersistentFlags().Lookup("log"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		jww.FATAL.Fatalf("unable to read config file %s: %v", cfgFile, err)
	}
}

// loadConfig parses the merged flag, env and file configuration and sets up
// logging from it.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := initLog(c.Log); err != nil {
		return nil, err
	}
	return c, nil
}

func initLog(c config.Log) error {
	if c.Path != "-" && c.Path != "" {
		logOutput, err := os.OpenFile(c.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		jww.SetStdoutOutput(io.Discard)
		jww.SetLogOutput(logOutput)
	}

	switch c.Level {
	case "trace":
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	case "debug":
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	default:
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
	jww.INFO.Printf("log level set to: %s", c.Level)
	return nil
}
