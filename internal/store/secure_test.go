package store_test

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/internal/store"
)

func newBox(t *testing.T) *store.SecretBox {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := store.NewSecretBox(key)
	require.NoError(t, err)
	return box
}

func TestSecretBoxRoundtrip(t *testing.T) {
	box := newBox(t)

	sealed, err := box.Seal([]byte(`{"token":"secret"}`))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "secret")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, `{"token":"secret"}`, string(plain))
}

func TestSecretBoxRejectsTamperedCiphertext(t *testing.T) {
	box := newBox(t)
	sealed, err := box.Seal([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = box.Open(sealed)
	require.Error(t, err)
}

func TestSecretBoxRejectsShortBlob(t *testing.T) {
	box := newBox(t)
	_, err := box.Open([]byte("short"))
	require.Error(t, err)
}

func TestSecretBoxRejectsBadKeySize(t *testing.T) {
	_, err := store.NewSecretBox([]byte("too short"))
	require.Error(t, err)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kavach.key")

	first, err := store.LoadOrCreateKey(path)
	require.NoError(t, err)
	require.Len(t, first, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second load returns the same key, not a fresh one.
	second, err := store.LoadOrCreateKey(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadOrCreateKeyCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kavach.key")
	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o600))

	_, err := store.LoadOrCreateKey(path)
	require.Error(t, err)
}
