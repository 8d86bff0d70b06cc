package sdk

import (
	"context"
	"testing"

	"payflow/config"
	"payflow/internal/services/sdk/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Sandbox(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Provider = ProviderSandbox

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &sandbox.Provider{}, p)
	assert.Equal(t, "sandbox", p.Name())
}

func TestNew_Unsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Provider = "bcel"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported gateway provider: bcel")
	assert.Equal(t, []string{"checkout", "sandbox"}, Supported())
}
