package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/minus-twelve/csrfguard"
	"github.com/minus-twelve/csrfguard/token"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9000\"\ncsrf:\n  strategy: double_submit\n"), 0o600))

	t.Setenv("CSRFGUARD_CONFIG", path)
	t.Setenv("CSRFGUARD_CSRF_STRATEGY", "signed")
	t.Setenv("CSRF_SECRET", "from-env")

	v := viper.New()
	newRootCmd(v)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, csrfguard.StrategySigned, cfg.CSRF.Strategy)
	assert.Equal(t, "from-env", cfg.CSRF.Secret)
}

func TestLoadConfig_SignedFileWithSecretFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("csrf: {strategy: signed}\n"), 0o600))

	t.Setenv("CSRFGUARD_CONFIG", path)
	t.Setenv("CSRF_SECRET", "from-env")

	v := viper.New()
	newRootCmd(v)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, csrfguard.StrategySigned, cfg.CSRF.Strategy)
	assert.Equal(t, "from-env", cfg.CSRF.Secret)
}

func TestLoadConfig_FlagFixesInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("csrf: {strategy: magic}\n"), 0o600))

	v := viper.New()
	cmd := newRootCmd(v)
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	require.NoError(t, cmd.PersistentFlags().Set("strategy", "double_submit"))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, csrfguard.StrategyDoubleSubmit, cfg.CSRF.Strategy)
}

func TestLoadConfig_SignedWithoutSecret(t *testing.T) {
	t.Setenv("CSRFGUARD_CSRF_STRATEGY", "signed")

	v := viper.New()
	newRootCmd(v)

	_, err := loadConfig(v)
	assert.ErrorIs(t, err, csrfguard.ErrMissingSecret)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("CSRF_SECRET", "k")

	v := viper.New()
	cmd := newRootCmd(v)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--sign"})
	require.NoError(t, cmd.Execute())

	tok, sig, ok := token.SplitSigned(strings.TrimSpace(out.String()))
	require.True(t, ok)
	assert.True(t, token.Valid(tok))
	assert.True(t, token.VerifySignature([]byte("k"), tok, sig))
}

func TestPrintToken_SignRequiresSecret(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, printToken(&out, "", true), csrfguard.ErrMissingSecret)

	require.NoError(t, printToken(&out, "", false))
	assert.True(t, token.Valid(strings.TrimSpace(out.String())))
}
