package viz

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	registry, err := NewRegistry(DefaultBindings(), []Identity{LayoutIdentity("egosuite.Internal")})
	require.NoError(t, err)

	resolution := registry.Resolve(LayoutIdentity("egosuite.ImuRaw"))
	assert.Equal(t, PolicyRule, resolution.Kind)
	require.NotNil(t, resolution.Rule)
	assert.Equal(t, "imu", resolution.Rule.Name())

	resolution = registry.Resolve(LayoutIdentity("egosuite.Internal"))
	assert.Equal(t, PolicyDrop, resolution.Kind)

	// unknown identities default to pass-through
	resolution = registry.Resolve(LayoutIdentity("vendor.Custom"))
	assert.Equal(t, PolicyPassThrough, resolution.Kind)

	// identity includes the encoding, not just the name
	resolution = registry.Resolve(Identity{Name: "egosuite.ImuRaw", Encoding: "protobuf"})
	assert.Equal(t, PolicyPassThrough, resolution.Kind)
}

func TestRegistryAmbiguous(t *testing.T) {
	identity := LayoutIdentity("egosuite.ImuRaw")

	_, err := NewRegistry([]Binding{
		{Identity: identity, Rule: &ImuRule{}},
		{Identity: identity, Rule: &AudioRule{}},
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousSchema))

	_, err = NewRegistry([]Binding{
		{Identity: identity, Rule: &ImuRule{}},
	}, []Identity{identity})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousSchema))
}
