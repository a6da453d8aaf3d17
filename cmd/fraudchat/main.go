package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	chartDir   string

	rootCmd = &cobra.Command{
		Use:   "fraudchat",
		Short: "Ask questions about credit card transactions in plain language",
		Long: `fraudchat loads a credit card transaction table and lets a language model
answer questions about it by running queries and drawing charts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configPath != "" {
				os.Setenv("FRAUDCHAT_CONFIG", configPath)
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversation API over HTTP",
		RunE:  runServe, // Defined in serve.go
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation in the terminal",
		RunE:  runChat, // Defined in chat.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides FRAUDCHAT_CONFIG)")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chartDir, "chart-dir", "charts", "Directory where rendered charts are written")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
