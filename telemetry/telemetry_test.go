package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv(EndpointEnv, "")
	shutdown, err := Setup(context.Background(), "offline-cache", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupExplicitlyDisabled(t *testing.T) {
	t.Setenv(EndpointEnv, "http://127.0.0.1:4318")
	t.Setenv(EnabledEnv, "FALSE")
	shutdown, err := Setup(context.Background(), "offline-cache", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
