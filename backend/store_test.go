package backend

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// testStoreContract exercises the behaviour every Store must share.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("SetGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetItem(ctx, "@instant_posts", `{"id":1}`))

		got, err := s.GetItem(ctx, "@instant_posts")
		require.NoError(t, err)
		require.Equal(t, `{"id":1}`, got)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetItem(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetItem(ctx, "k", "first value"))
		require.NoError(t, s.SetItem(ctx, "k", "second"))

		got, err := s.GetItem(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, "second", got)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetItem(ctx, "empty", ""))

		got, err := s.GetItem(ctx, "empty")
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("RemoveIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetItem(ctx, "k", "v"))
		require.NoError(t, s.RemoveItem(ctx, "k"))
		require.NoError(t, s.RemoveItem(ctx, "k"))

		_, err := s.GetItem(ctx, "k")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AllKeysAndMultiRemove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		keys := []string{"@instant_a", "@instant_b", "@other_c", "plain"}
		for _, k := range keys {
			require.NoError(t, s.SetItem(ctx, k, "value-"+k))
		}

		all, err := s.AllKeys(ctx)
		require.NoError(t, err)
		sort.Strings(all)
		require.Equal(t, []string{"@instant_a", "@instant_b", "@other_c", "plain"}, all)

		require.NoError(t, s.MultiRemove(ctx, []string{"@instant_a", "@instant_b", "never-set"}))

		all, err = s.AllKeys(ctx)
		require.NoError(t, err)
		sort.Strings(all)
		require.Equal(t, []string{"@other_c", "plain"}, all)
	})

	t.Run("ItemSize", func(t *testing.T) {
		s := newStore(t)
		ss, ok := s.(SizeAwareStore)
		if !ok {
			t.Skip("store does not report sizes")
		}
		ctx := context.Background()

		require.NoError(t, ss.SetItem(ctx, "sized", "12345"))

		size, err := ss.ItemSize(ctx, "sized")
		require.NoError(t, err)
		require.Equal(t, int64(5), size)

		_, err = ss.ItemSize(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}
