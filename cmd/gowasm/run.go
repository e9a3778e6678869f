package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	wazero "github.com/gowasm/gowasm"
	"github.com/gowasm/gowasm/imports/wasi_snapshot_preview1"
	"github.com/gowasm/gowasm/sys"
)

func newRunCommand() *cobra.Command {
	var envs []string
	var envInherit bool

	cmd := &cobra.Command{
		Use:   "run <wasm-file> [-- args...]",
		Short: "Runs a WebAssembly binary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasmPath := args[0]
			wasmArgs := args[1:]

			environ := envs
			if envInherit {
				environ = append(os.Environ(), environ...)
			}

			exitCode, err := runWasm(wasmPath, wasmArgs, environ, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if exitCode != 0 {
				os.Exit(exitCode)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&envs, "env", nil, "key=value pair to expose to the guest as an environment variable; repeatable")
	cmd.Flags().BoolVar(&envInherit, "env-inherit", false, "inherit the calling process's environment, in addition to --env")
	return cmd
}

func runWasm(wasmPath string, wasmArgs, environ []string, stdout, stderr io.Writer) (int, error) {
	bin, err := os.ReadFile(wasmPath)
	if err != nil {
		return 1, fmt.Errorf("reading %s: %w", wasmPath, err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntime()
	defer rt.Close(ctx)

	wasiCfg := wasi_snapshot_preview1.NewConfig().
		WithArgs(append([]string{wasmPath}, wasmArgs...)...).
		WithEnviron(environ...).
		WithStdin(os.Stdin).
		WithStdout(stdout).
		WithStderr(stderr)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt, wasiCfg); err != nil {
		return 1, fmt.Errorf("instantiating wasi_snapshot_preview1: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return 1, fmt.Errorf("compiling %s: %w", wasmPath, err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err == nil {
		if start := mod.ExportedFunction("_start"); start != nil {
			_, err = start.Call(ctx)
		}
	}
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok {
			return int(exitErr.ExitCode()), nil
		}
		return 1, fmt.Errorf("running %s: %w", wasmPath, err)
	}
	return 0, nil
}
