package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landvalue/config"
	"landvalue/internal/models"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Backend = config.BackendSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "store.db")

	store, closeStore, err := Open(context.Background(), cfg, logrus.New())
	require.NoError(t, err)
	defer closeStore(context.Background())

	_, ok := store.(*Database)
	assert.True(t, ok)

	ctx := context.Background()
	require.NoError(t, store.UpsertProperties(ctx, []*models.Property{property("https://listings.test/a", 30.27, -97.74, models.CategoryResidential)}))
	props, err := store.Nearest(ctx, austin, 5, "", 10)
	require.NoError(t, err)
	assert.Len(t, props, 1)
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Backend = "postgres"

	_, _, err := Open(context.Background(), cfg, logrus.New())
	assert.ErrorContains(t, err, "postgres")
}
