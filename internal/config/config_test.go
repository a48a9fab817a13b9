package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "acm"}
	cmd.Flags().StringP("config", "c", "", "")
	cmd.Flags().StringP("data-dir", "d", "", "")
	cmd.Flags().StringP("listen", "l", ":9022", "")
	cmd.Flags().StringP("log-level", "", "info", "")
	cmd.Flags().StringP("user", "", "", "")
	cmd.Flags().StringP("password", "", "", "")
	return cmd
}

func TestLoadDefaults(t *testing.T) {
	cmd := testCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("user", "acm"))
	require.NoError(t, cmd.Flags().Set("password", "secret"))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, ":9022", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Metrics.Enable)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadRequiresDataDir(t *testing.T) {
	cmd := testCommand()
	require.NoError(t, cmd.Flags().Set("user", "acm"))
	require.NoError(t, cmd.Flags().Set("password", "secret"))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "data_dir is required")
}

func TestLoadRequiresCredentials(t *testing.T) {
	cmd := testCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "auth.user is required")

	require.NoError(t, cmd.Flags().Set("user", "acm"))
	_, err = Load(cmd)
	assert.ErrorContains(t, err, "auth.password")
}

func TestLoadHashesPlaintextPassword(t *testing.T) {
	cmd := testCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("user", "acm"))
	require.NoError(t, cmd.Flags().Set("password", "secret"))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Empty(t, cfg.Auth.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cfg.Auth.PasswordHash), []byte("secret")))
}
