package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowasm/gowasm/api"
)

var testCtx = context.Background()

func TestNewRuntimeWithConfig_PanicsOnWrongImpl(t *testing.T) {
	require.PanicsWithValue(t, "unsupported wazero.RuntimeConfig implementation: <nil>", func() {
		NewRuntimeWithConfig(nil)
	})
}

func TestHostModule_RoundTrip(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	env, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, x, y uint32) uint32 { return x + y }).
		Export("add").
		Instantiate(testCtx)
	require.NoError(t, err)
	require.Equal(t, "env", env.Name())

	add := env.ExportedFunction("add")
	require.NotNil(t, add)

	results, err := add.Call(testCtx, 3, 4)
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestHostModule_WithGoModuleFunction_SeesCallingModule(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	var sawModuleName string
	env, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(func(ctx context.Context, mod api.Module, stack []uint64) {
			sawModuleName = mod.Name()
		}, nil, nil).
		Export("touch").
		Instantiate(testCtx)
	require.NoError(t, err)

	_, err = env.ExportedFunction("touch").Call(testCtx)
	require.NoError(t, err)
	require.Equal(t, "env", sawModuleName)
}

func TestRuntime_InstantiateModule_DuplicateNameErrors(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	_, err := r.NewHostModuleBuilder("env").Instantiate(testCtx)
	require.NoError(t, err)

	_, err = r.NewHostModuleBuilder("env").Instantiate(testCtx)
	require.EqualError(t, err, "module[env] has already been instantiated")
}

func TestRuntime_Module(t *testing.T) {
	r := NewRuntime()
	defer r.Close(testCtx)

	require.Nil(t, r.Module("env"))

	mod, err := r.NewHostModuleBuilder("env").Instantiate(testCtx)
	require.NoError(t, err)
	require.Equal(t, mod, r.Module("env"))
}
