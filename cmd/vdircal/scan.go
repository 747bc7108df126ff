package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	yamlv3 "gopkg.in/yaml.v3"

	"vdircal/internal/model"
	"vdircal/internal/vdir"
)

var scanFormat string

var scanCmd = &cobra.Command{
	Use:   "scan [root...]",
	Short: "List the collections found under vdir roots",
	Long: `scan lists the collections found directly under each root, in the
order the engine would load them. Without arguments the configured
vdir_roots and static collections are used.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanFormat, "output", "o", "yaml", "Output format: yaml or json")
}

func runScan(cmd *cobra.Command, args []string) error {
	fsys := afero.NewOsFs()

	var cols []model.VdirCollectionConfig
	if len(args) > 0 {
		cols = vdir.ScanAllRoots(fsys, args)
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cols = cfg.CollectionConfigs(fsys)
	}

	out := cmd.OutOrStdout()
	switch scanFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cols)
	case "yaml":
		enc := yamlv3.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(cols)
	default:
		return fmt.Errorf("unknown output format %q", scanFormat)
	}
}
