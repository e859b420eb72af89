package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/runtime"
)

var runtimesJSON bool

var runtimesCmd = &cobra.Command{
	Use:   "runtimes",
	Short: "List the runtimes available to agents",
	Long: `List every runtime in the configured catalogs.

Legacy cli-providers entries are folded in alongside the native catalog.
Use --json to emit the merged catalog in the native format, e.g. to migrate
a legacy file.`,
	RunE: runRuntimes,
}

func init() {
	runtimesCmd.Flags().BoolVar(&runtimesJSON, "json", false, "Emit the merged catalog as JSON")
	rootCmd.AddCommand(runtimesCmd)
}

func runRuntimes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry := runtime.NewRegistry()
	if cfg.Runtimes == nil || (cfg.Runtimes.Catalog == "" && cfg.Runtimes.LegacyCatalog == "") {
		printer.Warning("No runtime catalog configured (runtimes.catalog in warren.yml)\n")
		return nil
	}
	if cfg.Runtimes.Catalog != "" {
		if err := registry.LoadCatalogFile(cfg.Runtimes.Catalog); err != nil {
			return printer.Error("Failed to load runtime catalog", err.Error(), nil)
		}
	}
	if cfg.Runtimes.LegacyCatalog != "" {
		if err := registry.LoadLegacyCatalogFile(cfg.Runtimes.LegacyCatalog); err != nil {
			return printer.Error("Failed to load legacy runtime catalog", err.Error(), nil)
		}
	}

	if runtimesJSON {
		data, err := registry.Emit()
		if err != nil {
			return printer.Error("Failed to encode catalog", err.Error(), nil)
		}
		printer.Println(string(data))
		return nil
	}

	entries := registry.Entries()
	if len(entries) == 0 {
		printer.Info("The catalog is empty\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		model := "-"
		if e.DefaultModel != nil && e.DefaultModel.ModelID != "" {
			model = e.DefaultModel.ModelID
		}
		name := e.DisplayName
		if name == "" {
			name = "-"
		}
		rows = append(rows, []string{e.ID, e.Type, name, model})
	}
	printer.Table(os.Stdout, []string{"ID", "TYPE", "NAME", "DEFAULT MODEL"}, rows)
	return nil
}
