package sasl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmersionFactorySupportedRespectsDisabled(t *testing.T) {
	f := &EmersionFactory{Username: "u", Password: "p", Disabled: map[string]bool{"EXTERNAL": true}}
	assert.Equal(t, []string{"PLAIN"}, f.Supported())
}

func TestEmersionFactoryPlainAuthenticate(t *testing.T) {
	f := &EmersionFactory{Identity: "u", Username: "u", Password: "p"}
	m, err := f.Create("PLAIN")
	require.NoError(t, err)
	defer m.Dispose()

	ok, resp, err := m.Authenticate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u\x00u\x00p", string(resp))
	assert.False(t, m.SupportsChannelBinding())
}

func TestEmersionFactoryUnknownMechanism(t *testing.T) {
	f := &EmersionFactory{}
	_, err := f.Create("SCRAM-SHA-256")
	assert.Error(t, err)
}
