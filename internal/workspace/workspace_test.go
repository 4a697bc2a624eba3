package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPather(t *testing.T) *Pather {
	t.Helper()
	root := t.TempDir()
	p, err := New(root)
	require.NoError(t, err)
	return p
}

func TestPath_ValidIdentifiers(t *testing.T) {
	p := newTestPather(t)
	path, err := p.Path("chA", "proj1", KindVideos)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Root(), "channels", "chA", "projects", "proj1", "videos"), path)
}

func TestPath_RejectsInvalidChannelID(t *testing.T) {
	p := newTestPather(t)
	_, err := p.Path("../escape", "proj1", KindVideos)
	require.Error(t, err)
}

func TestPath_RejectsInvalidProjectID(t *testing.T) {
	p := newTestPather(t)
	_, err := p.Path("chA", "proj/../../etc", KindVideos)
	require.Error(t, err)
}

func TestPath_RejectsEmptyIdentifiers(t *testing.T) {
	p := newTestPather(t)
	_, err := p.Path("", "proj1", KindVideos)
	require.Error(t, err)

	_, err = p.Path("chA", "", KindVideos)
	require.Error(t, err)
}

func TestPath_RejectsOverlongIdentifiers(t *testing.T) {
	p := newTestPather(t)
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	_, err := p.Path(string(long), "proj1", KindVideos)
	require.Error(t, err)
}

func TestEnsureDir_CreatesAndIsIdempotent(t *testing.T) {
	p := newTestPather(t)
	path, err := p.EnsureDir("chA", "proj1", KindComposites)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// second call must not fail on an already-existing directory.
	path2, err := p.EnsureDir("chA", "proj1", KindComposites)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
}

func TestEnsureDir_DisjointAcrossChannels(t *testing.T) {
	p := newTestPather(t)
	a, err := p.EnsureDir("chA", "proj1", KindVideos)
	require.NoError(t, err)
	b, err := p.EnsureDir("chB", "proj1", KindVideos)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPath_RejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	p, err := New(root)
	require.NoError(t, err)

	channelsDir := filepath.Join(p.Root(), "channels")
	require.NoError(t, os.MkdirAll(channelsDir, 0o755))

	escapeLink := filepath.Join(channelsDir, "escaped")
	require.NoError(t, os.Symlink(outside, escapeLink))

	_, err = p.Path("escaped", "proj1", KindVideos)
	require.Error(t, err)
}

func TestAllKinds_ProduceDistinctPaths(t *testing.T) {
	p := newTestPather(t)
	kinds := []Kind{KindCharacters, KindEnvironments, KindProps, KindComposites, KindVideos, KindAudio, KindSFX}
	seen := make(map[string]bool)
	for _, k := range kinds {
		path, err := p.Path("chA", "proj1", k)
		require.NoError(t, err)
		assert.False(t, seen[path], "duplicate path for kind %s", k)
		seen[path] = true
	}
}
