package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasm/binary"
)

func newValidateCommand() *cobra.Command {
	var features string

	cmd := &cobra.Command{
		Use:   "validate <wasm-file>",
		Short: "Checks that a WebAssembly binary is well-formed, without instantiating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			enabled := wasm.FeaturesMVP
			if features == "finished" {
				enabled = wasm.FeaturesFinished
			} else if features == "all" {
				enabled = wasm.FeaturesAll
			}

			m, err := binary.DecodeModule(bin, enabled)
			if err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}
			if err := m.IndexExports(); err != nil {
				return fmt.Errorf("indexing exports of %s: %w", args[0], err)
			}
			if err := wasm.ValidateModule(m, enabled); err != nil {
				return fmt.Errorf("validating %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&features, "features", "mvp", "WebAssembly feature set to validate against: mvp, finished, or all")
	return cmd
}
