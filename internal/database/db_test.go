package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestBuildConnectionString_Profiles(t *testing.T) {
	ledger := buildConnectionString("/tmp/x.db", ProfileLedger)
	assert.Contains(t, ledger, "synchronous(FULL)")
	assert.Contains(t, ledger, "busy_timeout(5000)")

	standard := buildConnectionString("/tmp/x.db", ProfileStandard)
	assert.Contains(t, standard, "synchronous(NORMAL)")

	withQuery := buildConnectionString("file:mem?mode=memory", ProfileCache)
	assert.Contains(t, withQuery, "mode=memory&_pragma=journal_mode(WAL)")
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := newTestDB(t, NameOperations, ProfileStandard)
	assert.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='snipes'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarketSchema_LedgerIsAppendOnly(t *testing.T) {
	db := newTestDB(t, NameMarket, ProfileLedger)
	conn := db.Conn()

	_, err := conn.Exec(`INSERT INTO listings (source, url, title, normalized_title, base_price, current_price,
		listed_at, status_changed_at, created_at, updated_at) VALUES ('t', 'u', 'T', 't', '10', '10', 0, 0, 0, 0)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO price_changes (listing_id, base_price, old_price, new_price, recorded_at)
		VALUES (1, '10', '10', '5', 0)`)
	require.NoError(t, err)

	_, err = conn.Exec(`UPDATE price_changes SET new_price = '6'`)
	assert.ErrorContains(t, err, "append-only")

	_, err = conn.Exec(`DELETE FROM price_changes`)
	assert.ErrorContains(t, err, "append-only")
}

func TestOperationsSchema_TerminalSnipesAreImmutable(t *testing.T) {
	db := newTestDB(t, NameOperations, ProfileStandard)
	conn := db.Conn()

	_, err := conn.Exec(`INSERT INTO snipes (listing_url, max_bid, auction_end_time, fire_at, status, created_at, updated_at)
		VALUES ('u', '10', 1000, 0, 'cancelled', 0, 0)`)
	require.NoError(t, err)

	_, err = conn.Exec(`UPDATE snipes SET status = 'scheduled' WHERE id = 1`)
	assert.ErrorContains(t, err, "terminal state")
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t, NameOperations, ProfileStandard)
	ctx := context.Background()

	err := WithTransaction(ctx, db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO alerts (search_query, notification_method, notification_target, created_at)
			VALUES ('camera', 'email', 'a@b.c', 0)`)
		require.NoError(t, err)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM alerts").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSnapshotTo(t *testing.T) {
	db := newTestDB(t, NameOperations, ProfileStandard)
	dest := filepath.Join(t.TempDir(), "copy", "operations.db")

	require.NoError(t, db.SnapshotTo(context.Background(), dest))

	copyDB, err := New(Config{Path: dest, Name: "copy"})
	require.NoError(t, err)
	defer copyDB.Close()

	var count int
	require.NoError(t, copyDB.Conn().QueryRow("SELECT COUNT(*) FROM snipes").Scan(&count))
	assert.Equal(t, 0, count)
}
