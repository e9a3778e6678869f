// Command gowasm runs, validates, and pre-compiles WebAssembly binaries
// against the gowasm runtime.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gowasm",
		Short:         "gowasm runs and inspects WebAssembly binaries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newCompileCommand())
	root.AddCommand(newValidateCommand())
	return root
}
