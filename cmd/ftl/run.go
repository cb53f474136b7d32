package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/nvmlab/go-ftl/internal/device"
	"github.com/nvmlab/go-ftl/internal/ftl"
	"github.com/nvmlab/go-ftl/internal/types"
)

var (
	runPages  int
	runRounds int
	runRandom bool
	runSeed   int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a synthetic workload through the engine",
	Long: `Build the configured target over a simulated device, write a span of
pages for a number of rounds, read everything back, and print the
status table.

Examples:
  # Default target, 256 pages, 4 overwrite rounds
  ftl run --pages 256 --rounds 4

  # Random overwrites against the swap target
  ftl run --target swap --random`,

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := types.LoadConfig()
		if err != nil {
			return err
		}
		if cfgTarget != "" {
			cfg.TargetType = cfgTarget
		}
		engine, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx := cmd.Context()
		rng := rand.New(rand.NewSource(runSeed))
		geo := cfg.Geometry()
		if int64(runPages) > geo.TotalPages() {
			return fmt.Errorf("--pages %d exceeds device capacity %d", runPages, geo.TotalPages())
		}

		for round := 0; round < runRounds; round++ {
			for i := 0; i < runPages; i++ {
				page := i
				if runRandom {
					page = rng.Intn(runPages)
				}
				if err := engine.Submit(ctx, ftl.NewRequest(ftl.OpWrite,
					int64(page)*types.NrPhyInLog, stampPage(page, round))); err != nil {
					return fmt.Errorf("write of page %d failed: %w", page, err)
				}
			}
		}
		for i := 0; i < runPages; i++ {
			r := ftl.NewRequest(ftl.OpRead, int64(i)*types.NrPhyInLog, nil)
			if err := engine.Submit(ctx, r); err != nil {
				return fmt.Errorf("read of page %d failed: %w", i, err)
			}
			if !runRandom && !bytes.Equal(r.Data[:12], stampPage(i, runRounds-1)[:12]) {
				return fmt.Errorf("page %d read back wrong contents", i)
			}
		}

		printStatus(cmd, engine.Status())
		return nil
	},
}

// stampPage builds a page payload tagged with its index and round.
func stampPage(page, round int) []byte {
	buf := make([]byte, types.ExposedPageSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(page))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(round))
	return buf
}

func buildEngine(cfg *types.Config) (*ftl.Engine, error) {
	var (
		dev device.Device
		err error
	)
	if cfgBacking != "" {
		dev, err = device.NewFileDevice(cfgBacking, cfg.Geometry(), cfg.TRead(), cfg.TWrite(), cfg.TErase())
	} else {
		dev, err = device.NewMemDevice(cfg.Geometry(), cfg.TRead(), cfg.TWrite(), cfg.TErase())
	}
	if err != nil {
		return nil, err
	}
	engine, err := ftl.New(cfg, dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return engine, nil
}

func printStatus(cmd *cobra.Command, s ftl.Status) {
	cmd.Printf("flags %#x  gc-cycles %d  relocated %d  pending-hints %d\n",
		uint32(s.Flags), s.GCCycles, s.PagesRelocated, s.PendingHints)
	cmd.Println("pool  free  victims  quarantined")
	for _, p := range s.Pools {
		cmd.Printf("%4d  %4d  %7d  %11d\n", p.ID, p.Free, p.Victims, p.Quarantined)
	}
	cmd.Println("ap    pool  reads  writes  delayed  wait       ino")
	for _, ap := range s.APs {
		cmd.Printf("%4d  %4d  %5d  %6d  %7d  %-9s  %d\n",
			ap.ID, ap.Pool, ap.Reads, ap.Writes, ap.Delayed, ap.Wait, ap.Ino)
	}
}

func init() {
	runCmd.Flags().IntVar(&runPages, "pages", 256, "span of logical pages to exercise")
	runCmd.Flags().IntVar(&runRounds, "rounds", 4, "overwrite rounds before reading back")
	runCmd.Flags().BoolVar(&runRandom, "random", false, "overwrite random pages within the span")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "seed for the random workload")
	rootCmd.AddCommand(runCmd)
}
