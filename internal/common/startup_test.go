package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	HttpPort  uint16
	Staleness time.Duration
	Names     []string
	Nested    struct {
		Kind string
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
httpPort: 8080
staleness: 30s
names: [a, b]
nested:
  kind: " memory "
`)
	override := filepath.Join(t.TempDir(), "override.yaml")
	writeFile(t, override, `
staleness: 1m
nested:
  kind: pulsar
`)

	var config testConfig
	_, err := LoadConfig(&config, dir, []string{override, " "})
	require.NoError(t, err)

	assert.Equal(t, uint16(8080), config.HttpPort)
	assert.Equal(t, time.Minute, config.Staleness)
	assert.Equal(t, []string{"a", "b"}, config.Names)
	assert.Equal(t, "pulsar", config.Nested.Kind)
}

func TestLoadConfig_TrimsAndSplitsEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
httpPort: 8080
names: [a]
nested:
  kind: memory
`)
	t.Setenv("IMPORTTRACKER_NAMES", "x,y,z")
	t.Setenv("IMPORTTRACKER_NESTED_KIND", " nats ")

	var config testConfig
	_, err := LoadConfig(&config, dir, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "z"}, config.Names)
	assert.Equal(t, "nats", config.Nested.Kind)
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
httpPort: 8080
staleness: 30s
`)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint16("httpPort", 0, "")
	flags.Duration("staleness", 0, "")
	require.NoError(t, flags.Parse([]string{"--httpPort", "9090"}))

	var config testConfig
	_, err := LoadConfig(&config, dir, nil, flags)
	require.NoError(t, err)

	assert.Equal(t, uint16(9090), config.HttpPort)
	assert.Equal(t, 30*time.Second, config.Staleness)
}

func TestLoadConfig_MissingBase(t *testing.T) {
	var config testConfig
	_, err := LoadConfig(&config, t.TempDir(), nil)
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
