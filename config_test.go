package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowasm/gowasm/internal/wasm"
)

func TestRuntimeConfig_WithMethodsDoNotMutateReceiver(t *testing.T) {
	base := NewRuntimeConfig()
	withThreads := base.WithFeatureThreads(true)

	require.NotSame(t, base, withThreads)
	require.False(t, base.enabledFeatures.Get(wasm.FeatureThreads))
	require.True(t, withThreads.enabledFeatures.Get(wasm.FeatureThreads))
}

func TestRuntimeConfig_FeatureChaining(t *testing.T) {
	c := NewRuntimeConfig().
		WithFeatureSIMD(true).
		WithFeatureThreads(true).
		WithFeatureMultiMemory(true)

	require.True(t, c.enabledFeatures.Get(wasm.FeatureSIMD))
	require.True(t, c.enabledFeatures.Get(wasm.FeatureThreads))
	require.True(t, c.enabledFeatures.Get(wasm.FeatureMultiMemory))
	// MVP features remain enabled alongside the opted-in proposals.
	require.True(t, c.enabledFeatures.Get(wasm.FeatureMutableGlobal))
}

func TestRuntimeConfig_WithFinishedFeatures(t *testing.T) {
	c := NewRuntimeConfig().WithFinishedFeatures()
	require.Equal(t, wasm.FeaturesFinished, c.enabledFeatures)
	require.False(t, c.enabledFeatures.Get(wasm.FeatureThreads))
}

func TestRuntimeConfig_WithContext_NilDefaultsToBackground(t *testing.T) {
	c := NewRuntimeConfig().WithContext(nil)
	require.Equal(t, context.Background(), c.ctx)
}

func TestModuleConfig_WithName(t *testing.T) {
	c := NewModuleConfig().WithName("guest")
	require.Equal(t, "guest", c.name)
	require.Equal(t, "", NewModuleConfig().name)
}
