package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	wazero "github.com/gowasm/gowasm"
)

func newCompileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <wasm-file>",
		Short: "Decodes and validates a WebAssembly binary without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			ctx := context.Background()
			rt := wazero.NewRuntime()
			defer rt.Close(ctx)

			compiled, err := rt.CompileModule(ctx, bin)
			if err != nil {
				return fmt.Errorf("compiling %s: %w", args[0], err)
			}
			defer compiled.Close(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}
