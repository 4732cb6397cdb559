package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/bidconfig/internal/config"
	"github.com/matthewbaird/bidconfig/internal/projector"
	"github.com/matthewbaird/bidconfig/internal/types"
)

var (
	productType string
	recordPath  string
	format      string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the visible sections, visible fields and required set for a record",
	RunE:  runResolve,
}

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Print the bulk editor columns for a product type",
	RunE:  runColumns,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect the field schema",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the schema registry to stdout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return newResolver(*cfg).Registry().Export(cmd.OutOrStdout(), format)
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&productType, "product-type", "p", "", "Product type to resolve for (overrides the record's)")
	resolveCmd.Flags().StringVarP(&recordPath, "record", "r", "", "JSON file holding the record (defaults to an empty record)")
	columnsCmd.Flags().StringVarP(&productType, "product-type", "p", "", "Product type")
	schemaExportCmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	schemaCmd.AddCommand(schemaExportCmd)
}

func runResolve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rec := types.Record{}
	if recordPath != "" {
		data, err := os.ReadFile(recordPath)
		if err != nil {
			return fmt.Errorf("reading record: %w", err)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding record %s: %w", recordPath, err)
		}
	}
	res := newResolver(*cfg)
	if productType != "" {
		if !res.Registry().HasProductType(productType) {
			return fmt.Errorf("unknown product type: %s", productType)
		}
		return printJSON(cmd, res.ResolveFor(rec, productType))
	}
	return printJSON(cmd, res.Resolve(rec))
}

func runColumns(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	res := newResolver(*cfg)
	if productType != "" && !res.Registry().HasProductType(productType) {
		return fmt.Errorf("unknown product type: %s", productType)
	}
	return printJSON(cmd, projector.New(res).Project(productType))
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
