package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/agromarket/internal/errs"
	"github.com/and161185/agromarket/internal/storage"
)

var _ storage.Storage = (*Store)(nil)

func tmpPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "agromarket", "default", "remember.json")
}

func TestStore_PlainCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := tmpPath(t)
	s := New(p, WithLogger(zaptest.NewLogger(t)))

	_, ok, err := s.Get(ctx, "rememberedSession")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "rememberedSession", `{"userId":"u"}`))
	v, ok, err := s.Get(ctx, "rememberedSession")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"userId":"u"}`, v)

	st, err := os.Stat(p)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	// a second instance sees the same data
	v, ok, err = New(p).Get(ctx, "rememberedSession")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"userId":"u"}`, v)

	require.NoError(t, s.Remove(ctx, "rememberedSession"))
	require.NoError(t, s.Remove(ctx, "rememberedSession"))
	_, ok, _ = s.Get(ctx, "rememberedSession")
	require.False(t, ok)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := tmpPath(t)
	s := New(p)

	require.NoError(t, s.Set(ctx, "a", "1"))
	require.NoError(t, s.Clear(ctx))
	_, err := os.Stat(p)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, s.Clear(ctx))
}

func TestStore_CorruptFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := tmpPath(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o700))
	require.NoError(t, os.WriteFile(p, []byte("}}garbage{{"), 0o600))
	s := New(p, WithLogger(zaptest.NewLogger(t)))

	_, _, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, errs.ErrCorrupt)

	// writes replace the corrupt file
	require.NoError(t, s.Set(ctx, "k", "v"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestStore_Sealed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := tmpPath(t)
	s := New(p, WithPassphrase("correct horse"), WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, s.Set(ctx, "rememberedSession", "secret-envelope"))
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "secret-envelope"))
	require.False(t, strings.Contains(string(raw), "rememberedSession"))

	v, ok, err := New(p, WithPassphrase("correct horse")).Get(ctx, "rememberedSession")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "secret-envelope", v)

	_, _, err = New(p, WithPassphrase("wrong")).Get(ctx, "rememberedSession")
	require.ErrorIs(t, err, errs.ErrCorrupt)

	_, _, err = New(p).Get(ctx, "rememberedSession")
	require.ErrorIs(t, err, errs.ErrCorrupt)
}

func TestStore_PlainFileSealedOnWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := tmpPath(t)
	require.NoError(t, New(p).Set(ctx, "a", "1"))

	s := New(p, WithPassphrase("pw"), WithLogger(zaptest.NewLogger(t)))
	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, s.Set(ctx, "b", "2"))
	raw, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"sealed"`)
	require.NotContains(t, string(raw), `"entries"`)
}
