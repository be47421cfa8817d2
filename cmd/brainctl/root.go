package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rpggio/shopbrain/internal/client"
)

var (
	serverURL   string
	token       string
	tabID       string
	tabInstance string
	dbPath      string
)

var rootCmd = &cobra.Command{
	Use:   "brainctl",
	Short: "Talk to a shopbrain server from the terminal",
	Long: `brainctl drives the store assistant over its HTTP API.

Chat commands (chat, repl, confirm, cancel, state, search, variations) talk to a
running server. Admin commands (seed, apikey) open the SQLite database directly.

Quick Start:
  brainctl chat "subí la remera 10 a 1500"
  brainctl confirm
  brainctl repl`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Flag defaults read the environment, so .env has to be loaded first.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SHOPBRAIN_URL", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SHOPBRAIN_TOKEN"), "API token")
	rootCmd.PersistentFlags().StringVar(&tabID, "tab", "cli", "conversation tab id")
	rootCmd.PersistentFlags().StringVar(&tabInstance, "tab-instance", "1", "conversation tab instance")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("SHOPBRAIN_DB_PATH", "shopbrain.db"), "database path for admin commands")
}

func newClient() *client.Client {
	return client.New(serverURL, token, client.WithTab(tabID, tabInstance))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
