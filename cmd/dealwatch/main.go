package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dealwatch",
		Short: "Track Steam wishlist prices across stores and find deals",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(syncCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(gameCmd())
	root.AddCommand(serveCmd())

	return root
}

func syncCmd() *cobra.Command {
	var (
		steamID  string
		steamKey string
		itadKey  string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync wishlist and refresh prices from all sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(steamID, steamKey, itadKey)
		},
	}

	cmd.Flags().StringVar(&steamID, "steam-id", "", "Steam ID64 (overrides config/env)")
	cmd.Flags().StringVar(&steamKey, "steam-key", "", "Steam Web API key (overrides config/env)")
	cmd.Flags().StringVar(&itadKey, "itad-key", "", "IsThereAnyDeal API key (overrides config/env)")
	return cmd
}

func reportCmd() *cobra.Command {
	var (
		jsonOutput  bool
		onSale      bool
		minDiscount int
		search      string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the current deal report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(jsonOutput, onSale, minDiscount, search, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&onSale, "on-sale", false, "only games currently discounted")
	cmd.Flags().IntVar(&minDiscount, "min-discount", 0, "minimum discount percent")
	cmd.Flags().StringVar(&search, "search", "", "filter by title substring")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to show (0 = all)")
	return cmd
}

func gameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "game <app-id>",
		Short: "Show full detail for one game: prices, history, lows, bundles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGame(args[0])
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
