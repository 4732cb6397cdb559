package main

import (
	"github.com/spf13/cobra"

	"github.com/matthewbaird/bidconfig/internal/config"
	"github.com/matthewbaird/bidconfig/internal/resolver"
	"github.com/matthewbaird/bidconfig/internal/schema"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "configurator",
	Short: "Bid line-item configuration engine",
	Long: `configurator serves the schema-driven editor for bid transactions
(doors, windows, casings and their add-ons) and inspects the schema offline.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "CUE config file (defaults to $CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(columnsCmd)
	rootCmd.AddCommand(schemaCmd)
}

// newResolver builds the resolver the server would use for cfg.
func newResolver(cfg config.Config) *resolver.Resolver {
	return resolver.New(schema.Default(), resolver.WithGlobalRequired(cfg.Engine.GlobalRequired...))
}
