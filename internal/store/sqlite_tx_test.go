package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return newSQLiteFromDB(db, "acme"), mock
}

func TestSQLite_CreateSnapshot_LinkFailureRollsBack(t *testing.T) {
	st, mock := newSQLMockStore(t)
	snap := testSnapshot("alpha", time.Now().UTC(), "https://a.com", "https://b.com")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO search_results`).
		WithArgs("alpha", sqlmock.AnyArg(), int64(2000)).
		WillReturnResult(sqlmock.NewResult(7, 1))
	prep := mock.ExpectPrepare(`INSERT INTO search_links`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := st.CreateSnapshot(context.Background(), snap)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.Contains(t, err.Error(), "insert link 2")
	assert.Zero(t, snap.ID)
	assert.Zero(t, snap.Links[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_CreateSnapshot_CommitFailure(t *testing.T) {
	st, mock := newSQLMockStore(t)
	snap := testSnapshot("alpha", time.Now().UTC(), "https://a.com")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO search_results`).WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectPrepare(`INSERT INTO search_links`).ExpectExec().WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err := st.CreateSnapshot(context.Background(), snap)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.Contains(t, err.Error(), "commit snapshot")
	assert.Zero(t, snap.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_CreateSnapshot_BeginFailure(t *testing.T) {
	st, mock := newSQLMockStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("no connection"))

	err := st.CreateSnapshot(context.Background(), testSnapshot("alpha", time.Now().UTC()))
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
