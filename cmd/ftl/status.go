package main

import (
	"github.com/spf13/cobra"

	"github.com/nvmlab/go-ftl/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured target layout",
	Long: `Load the configuration, validate it, and print the target layout:
geometry, derived capacity, engine flags, and service timings.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := types.LoadConfig()
		if err != nil {
			return err
		}
		if cfgTarget != "" {
			cfg.TargetType = cfgTarget
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		flags, err := cfg.Flags()
		if err != nil {
			return err
		}
		geo := cfg.Geometry()
		cmd.Printf("target        %s (flags %#x)\n", cfg.TargetType, uint32(flags))
		cmd.Printf("pools         %d\n", geo.NrPools)
		cmd.Printf("blocks/pool   %d\n", geo.NrBlksPerPool)
		cmd.Printf("pages/block   %d\n", geo.NrPagesPerBlk)
		cmd.Printf("aps/pool      %d\n", geo.NrApsPerPool)
		cmd.Printf("capacity      %d pages (%d MiB)\n",
			geo.TotalPages(), geo.TotalPages()*types.ExposedPageSize/(1<<20))
		cmd.Printf("timings       read %s  write %s  erase %s\n", cfg.TRead(), cfg.TWrite(), cfg.TErase())
		cmd.Printf("gc period     %s\n", cfg.GCTime())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
