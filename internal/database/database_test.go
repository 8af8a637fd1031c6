package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/marketplace/marketplace-backend/internal/config"
)

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestOpenInMemorySharesPool(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(&widget{}))
	require.NoError(t, db.Gorm.Create(&widget{Name: "a"}).Error)

	var count int
	require.NoError(t, db.SQLX.Get(&count, db.SQLX.Rebind("SELECT COUNT(*) FROM widgets WHERE name = ?"), "a"))
	assert.Equal(t, 1, count)
	assert.Equal(t, "sqlite", db.Driver)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}
