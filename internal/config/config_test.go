package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// An explicit config path that does not exist is an error.
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutDir, cfg.OutDir)
	assert.Equal(t, DefaultStateFile, cfg.StatePath)
	assert.Equal(t, DefaultCodeSuffix, cfg.CodeSuffix)
	assert.False(t, cfg.Verbose)
}

func TestLoad_FileEnvAndFlagPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leapmap.yaml")
	content := `out_dir: from_file
malcode: mcb
code_suffix: _code
default_aliases:
  ossbr_secmast: sec
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("LEAPMAP_OUT_DIR", "from_env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("out-dir", "", "")
	flags.String("state", "", "")
	require.NoError(t, flags.Parse([]string{"--out-dir=from_flag", "--state=custom.db"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	// Flags beat env beats file.
	assert.Equal(t, "from_flag", cfg.OutDir)
	// The --state flag maps onto state_path.
	assert.Equal(t, "custom.db", cfg.StatePath)
	// File values without overrides survive.
	assert.Equal(t, "mcb", cfg.Malcode)
	assert.Equal(t, "_code", cfg.CodeSuffix)
	assert.Equal(t, map[string]string{"ossbr_secmast": "sec"}, cfg.DefaultAliases)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leapmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("malcode: from_file\n"), 0o644))
	t.Setenv("LEAPMAP_MALCODE", "from_env")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Malcode)
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("out-dir", "", "")
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutDir, cfg.OutDir)
}
