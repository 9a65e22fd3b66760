package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	os.Setenv("BACKEND_BASE_URL", "http://backend:8080/api/v1")
	defer os.Unsetenv("BACKEND_BASE_URL")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "8096", cfg.Server.Port)
	require.Equal(t, "http://backend:8080/api/v1", cfg.Backend.BaseURL)
	require.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	require.Equal(t, 2*time.Minute, cfg.Binding.Timeout)
	require.Equal(t, "firebase", cfg.Provider.Name)
}
