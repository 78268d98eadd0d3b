package main

import (
	"log"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	httpURL   string
	token     string

	rootCmd = &cobra.Command{
		Use:   "collab_client",
		Short: "Terminal client for the draft collaboration server",
		Long: `collab_client joins a draft room over websocket, prints room events and
sends edits typed on stdin. It reconnects with backoff and can request inline suggestions.`,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "ws://localhost:8082", "websocket base url of the collab server")
	rootCmd.PersistentFlags().StringVar(&httpURL, "http", "http://localhost:8082", "http base url of the collab server")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer access token")

	rootCmd.AddCommand(joinCmd, suggestCmd)
}
