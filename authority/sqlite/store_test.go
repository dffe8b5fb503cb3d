package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plus3/remoteworld/authority"
	"github.com/plus3/remoteworld/authority/sqlite"
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/protocol"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "world.db"))

	require.NoError(t, store.SaveEntity(ctx, ecs.EntityId(7), map[string][]byte{
		"motd":                []byte(`"hi"`),
		"persistent_resource": []byte(`{}`),
	}))
	require.NoError(t, store.SaveEntity(ctx, ecs.EntityId(7), map[string][]byte{
		"motd": []byte(`"bye"`),
	}))
	require.NoError(t, store.SaveEntity(ctx, ecs.EntityId(8), map[string][]byte{
		"motd": []byte(`"other"`),
	}))

	loaded, err := store.LoadEntities(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, map[string][]byte{"motd": []byte(`"bye"`)}, loaded[ecs.EntityId(7)], "save replaces the entity")

	require.NoError(t, store.DeleteEntity(ctx, ecs.EntityId(7)))
	loaded, err = store.LoadEntities(ctx)
	require.NoError(t, err)
	assert.NotContains(t, loaded, ecs.EntityId(7))
	assert.Contains(t, loaded, ecs.EntityId(8))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open("  ")
	assert.Error(t, err)
}

func TestServerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "world.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newServer := func(store *sqlite.Store) (*authority.Server, protocol.Components, ecs.Component[string]) {
		reg := ecs.NewComponentRegistry()
		core := protocol.Register(reg)
		motd := ecs.RegisterComponent[string](reg, "motd")
		return authority.NewServer(reg, authority.WithStore(store), authority.WithLogger(logger)), core, motd
	}

	first := openStore(t, path)
	server, core, motd := newServer(first)
	report := server.Apply(ctx, ecs.NewDiff().Spawn(ecs.Null,
		core.PersistentResource.With(protocol.PersistentResource{}),
		motd.With("welcome")))
	id := report.Applied.Ops()[0].Entity
	require.NoError(t, first.Close())

	second := openStore(t, path)
	restarted, _, motd2 := newServer(second)
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	restarted.View(func(world *ecs.Storage) {
		value, err := ecs.Get(world, id, motd2)
		require.NoError(t, err)
		assert.Equal(t, "welcome", value)
	})
}
