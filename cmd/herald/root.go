package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"herald/internal/config"
	logx "herald/pkg/logx"
)

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "herald - scheduled and calendar-anchored message delivery",
	Long: `herald sends Slack and Telegram messages on recurring schedules or
relative to Google Calendar events, persisting jobs so restarts neither
lose nor repeat a send.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./herald.yaml", "path to config (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config (missing is fine)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(authCmd)
}

// loadEnv reads a dotenv file without overriding variables already set.
func loadEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// loadConfig is the config path for one-shot commands.
func loadConfig() (*config.Config, config.Durations, logx.Logger, error) {
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return nil, config.Durations{}, logx.Logger{}, err
	}
	dur, err := cfg.Validate()
	if err != nil {
		return nil, config.Durations{}, logx.Logger{}, err
	}
	return cfg, dur, logx.NewWriter(os.Stderr, cfg.Logging.Level), nil
}
