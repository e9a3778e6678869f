// Package wasi_snapshot_preview1 implements the WASI host module boundary
// that gowasm-compiled guests link against: process args/env, a clock,
// a source of randomness, fd_write/fd_read/fd_close for the standard
// streams, sched_yield and proc_exit.
//
// This is intentionally not a full POSIX filesystem, socket, or poll
// passthrough: gowasm's guests are sandboxed interpreters, not a drop-in
// replacement for a POSIX process, so preopened directories, sockets and
// poll_oneoff are out of scope. See the design notes.
package wasi_snapshot_preview1

import (
	"context"
	"io"

	wazero "github.com/gowasm/gowasm"
	"github.com/gowasm/gowasm/api"
)

// ModuleName is the module name WASI functions are exported under, e.g.
// "wasi_snapshot_preview1.fd_write".
const ModuleName = "wasi_snapshot_preview1"

// Config configures the Instantiate-d WASI host module.
type Config struct {
	args    []string
	environ []string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewConfig returns a Config with no args/environ and all streams discarded
// or empty, matching a process run with no arguments in an empty environment.
func NewConfig() *Config {
	return &Config{stdin: nopReader{}, stdout: io.Discard, stderr: io.Discard}
}

// WithArgs sets argv, as seen by args_get/args_sizes_get. Defaults to none.
func (c *Config) WithArgs(args ...string) *Config {
	ret := *c
	ret.args = args
	return &ret
}

// WithEnviron sets the environment, in "key=value" form, as seen by
// environ_get/environ_sizes_get. Defaults to none.
func (c *Config) WithEnviron(environ ...string) *Config {
	ret := *c
	ret.environ = environ
	return &ret
}

// WithStdin sets the reader backing fd_read on fd 0. Defaults to empty.
func (c *Config) WithStdin(r io.Reader) *Config {
	ret := *c
	ret.stdin = r
	return &ret
}

// WithStdout sets the writer backing fd_write on fd 1. Defaults to discard.
func (c *Config) WithStdout(w io.Writer) *Config {
	ret := *c
	ret.stdout = w
	return &ret
}

// WithStderr sets the writer backing fd_write on fd 2. Defaults to discard.
func (c *Config) WithStderr(w io.Writer) *Config {
	ret := *c
	ret.stderr = w
	return &ret
}

type nopReader struct{}

func (nopReader) Read([]byte) (int, error) { return 0, io.EOF }

// Instantiate instantiates the "wasi_snapshot_preview1" host module, ready
// for a guest to import from.
func Instantiate(ctx context.Context, r wazero.Runtime, cfg *Config) (api.Closer, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	builder := r.NewHostModuleBuilder(ModuleName)
	a := &wasi{cfg: cfg}
	a.exportFunctions(builder)
	return builder.Instantiate(ctx)
}
