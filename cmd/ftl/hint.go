package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvmlab/go-ftl/internal/types"
)

var hintCmd = &cobra.Command{
	Use:   "hint <payload-file>",
	Short: "Decode and validate a binary hint payload",
	Long: `Read a binary hint payload from a file, decode it, and print the
ranges it carries. The same wire format is accepted by the engine's
hint channel.

Example:
  ftl hint ./swap-range.bin`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read payload file: %w", err)
		}
		var p types.HintPayload
		if err := p.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("%w: %v", types.ErrBadAddress, err)
		}
		cmd.Printf("lba %d  sectors %d  write %t  flags %#x\n",
			p.LBA, p.SectorsCount, p.IsWrite, uint32(p.HintFlags))
		for _, h := range p.Hints {
			cmd.Printf("  ino %-8d  lba %-8d  count %-6d  class %s\n",
				h.Ino, h.StartLBA, h.Count, h.Class)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hintCmd)
}
