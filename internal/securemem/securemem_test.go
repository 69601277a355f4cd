package securemem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRevealAndDestroy(t *testing.T) {
	s := NewSecret("hunter2")
	assert.Equal(t, "hunter2", s.Reveal())
	assert.False(t, s.IsEmpty())
	assert.True(t, s.Equal("hunter2"))
	assert.False(t, s.Equal("hunter3"))

	s.Destroy()
	assert.True(t, s.IsEmpty())
	assert.Equal(t, "", s.Reveal())
	// Double destroy is harmless.
	s.Destroy()
}

func TestNilSecretIsSafe(t *testing.T) {
	var s *Secret
	assert.True(t, s.IsEmpty())
	assert.Equal(t, "", s.Reveal())
	assert.True(t, s.Equal(""))
	s.Destroy()
}

func TestTokenStoreFromEnv(t *testing.T) {
	t.Setenv("TEST_BRIDGE_TOKEN", "  tok-env-1\n")

	ts := NewTokenStore("TEST_BRIDGE_TOKEN", "")
	defer ts.Close()

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-env-1", tok, "token is trimmed")

	// Cached: a changed env var is not observed until Invalidate.
	t.Setenv("TEST_BRIDGE_TOKEN", "tok-env-2")
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-env-1", tok)

	ts.Invalidate()
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-env-2", tok)
}

func TestTokenStoreFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok-file-1\n"), 0o600))

	ts := NewTokenStore("TEST_BRIDGE_TOKEN_UNSET", path)
	defer ts.Close()

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-file-1", tok)
}

func TestTokenStoreEmptyFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

	ts := NewTokenStore("", path)
	_, err := ts.Token()
	assert.Error(t, err)
}

func TestTokenStoreUnconfiguredFails(t *testing.T) {
	ts := NewTokenStore("", "")
	_, err := ts.Token()
	assert.Error(t, err)
}

func TestStaticTokenStore(t *testing.T) {
	ts := NewStaticTokenStore(" tok-static ")
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-static", tok)
}
