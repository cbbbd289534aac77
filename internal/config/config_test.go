package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFillsInvalidFields(t *testing.T) {
	p := New()
	resolved := Defaults(p)

	assert.Equal(t, int64(0), resolved.MediaClass)
	assert.Equal(t, int64(10), resolved.SpareCapacityRatio)
	assert.Equal(t, int64(2), resolved.MDCCount)
	assert.Equal(t, DefaultRuntimeDir, resolved.RuntimeDir)
}

func TestDefaultsPreservesExplicitValues(t *testing.T) {
	p := New()
	p.MediaClass = 1
	p.Label = "staging-pool"

	resolved := Defaults(p)
	assert.Equal(t, int64(1), resolved.MediaClass)
	assert.Equal(t, "staging-pool", resolved.Label)
}

func TestLoadPartialYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/mpool/params.yaml", []byte("media_class: 1\nlabel: prod\n"), 0644))

	p, err := Load(fs, "/etc/mpool/params.yaml")
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.MediaClass)
	assert.Equal(t, "prod", p.Label)
	assert.Equal(t, int64(10), p.SpareCapacityRatio)
}

func TestLoadMissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/nope.yaml")
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("not: [valid: yaml"), 0644))
	_, err := Load(fs, "/bad.yaml")
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	p := Defaults(New())
	p.Label = "round-trip"
	p.MediaClass = 1
	require.NoError(t, Save(fs, "/var/run/mpool/p0.params.yaml", p))

	loaded, err := Load(fs, "/var/run/mpool/p0.params.yaml")
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestEnsureRuntimeDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, EnsureRuntimeDir(fs, "/var/run/mpool"))

	exists, err := afero.DirExists(fs, "/var/run/mpool")
	require.NoError(t, err)
	assert.True(t, exists)
}
