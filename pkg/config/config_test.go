package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	data := `
location: /mnt/fast
profile: random_4k_t32
settings:
  threads: 8
  multi_file: false
  alignment: -1
export: out.json
save: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/fast", cfg.Location)
	assert.False(t, cfg.SaveEnabled())
	assert.Equal(t, filepath.Join("/mnt/fast", DataDirName), cfg.DataDir())

	p, err := cfg.Params(41)
	require.NoError(t, err)
	assert.Equal(t, engine.WorkloadReadWrite, p.Workload)
	assert.Equal(t, engine.Random, p.Order)
	assert.Equal(t, 8, p.Workers)
	assert.Equal(t, 200, p.NumSamples)
	assert.Equal(t, 4096, p.BlockSize)
	assert.Equal(t, engine.EngineDirect, p.Engine)
	assert.True(t, p.Direct)
	assert.False(t, p.MultiFile)
	assert.Zero(t, p.SectorAlign)
	assert.EqualValues(t, 41, p.SequenceBase)
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings: {}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Location)
	assert.Equal(t, DefaultProfile, cfg.Profile)
	assert.True(t, cfg.SaveEnabled())
	assert.NotEmpty(t, cfg.Database)
}

func TestLoadUnknownProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: nope\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestApplyLayersFlags(t *testing.T) {
	cfg := Default()
	cfg.Settings = Settings{Samples: 10, Direct: Bool(true)}
	cfg.Apply(Settings{Samples: 3, Order: "random"})

	s, err := cfg.Effective()
	require.NoError(t, err)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, "random", s.Order)
	assert.True(t, *s.Direct)
	assert.Equal(t, 25, s.Blocks, "unset fields keep the profile value")
}

func TestParamsRejectsBadNames(t *testing.T) {
	cfg := Default()
	cfg.Apply(Settings{Engine: "libaio"})
	_, err := cfg.Params(1)
	assert.True(t, errors.Is(err, engine.ErrInvalidParams))
}

func TestEveryProfileIsValid(t *testing.T) {
	for _, p := range Profiles {
		t.Run(p.Name, func(t *testing.T) {
			params, err := p.Settings.Params(t.TempDir(), 1)
			require.NoError(t, err)
			assert.Equal(t, p.Settings, FromParams(params).Merge(Settings{}))
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Profile = "max_write_stress"
	cfg.Apply(Settings{Threads: 2})
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Write(cfg, path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Profile, back.Profile)
	assert.Equal(t, 2, back.Settings.Threads)
}

func TestPinnedReproducesParams(t *testing.T) {
	cfg := Default()
	cfg.Location = t.TempDir()
	cfg.Profile = "random_4k_t32"
	cfg.Apply(Settings{Threads: 8, Samples: 20})
	want, err := cfg.Params(7)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pinned.yaml")
	require.NoError(t, Write(cfg.Pinned(want), path))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, back.Profile)
	assert.Equal(t, "random_4k_t32", cfg.Profile, "original config untouched")

	got, err := back.Params(7)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
