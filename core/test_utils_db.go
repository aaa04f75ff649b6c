package core

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

// OpenTestDatabase opens a private in-memory SQLite database for testing, and runs all the migrations
func OpenTestDatabase(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	// Migrate the db
	assert.NoError(t, MigrateDB(context.Background(), db))
	return db
}
