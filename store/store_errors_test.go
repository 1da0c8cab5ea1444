package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiacta/phiacta/errors"
	"github.com/phiacta/phiacta/store"
)

// Driver-level failures must surface as errors, not panics or silent
// zero values.

func TestGetClaim_DriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM claims").WillReturnError(errors.New("disk I/O error"))

	s := store.New(db, nil)
	_, err = s.GetClaim(context.Background(), "some-claim")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetClaimStatus_DriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE claims").WillReturnError(errors.New("database is locked"))

	s := store.New(db, nil)
	err = s.SetClaimStatus(context.Background(), "some-claim", store.ClaimStatusActive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The (lineage_id, version) uniqueness constraint arbitrates racing
// writers, so its violation must come back as ErrConflict, not leak as
// a raw driver error. Mocking pins the interleaving: the writer reads
// version 1 as latest, but a rival commits version 2 before its insert.
func TestSupersede_VersionCollisionIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	columns := []string{"id", "lineage_id", "version", "content", "formal_content",
		"claim_type", "status", "supersedes", "external_ref", "created_by",
		"created_at", "attrs", "repo_path", "head_sha", "repo_status"}
	v1 := func() *sqlmock.Rows {
		return sqlmock.NewRows(columns).AddRow(
			"claim-v1", "lineage-1", 1, "Initial finding", nil, "empirical",
			"draft", nil, nil, "agent-1", time.Now(), "{}", nil, nil, "none")
	}

	mock.ExpectQuery("WHERE id = ").WillReturnRows(v1())
	mock.ExpectQuery("ORDER BY version DESC").WillReturnRows(v1())
	mock.ExpectExec("INSERT INTO claims").
		WillReturnError(errors.New("UNIQUE constraint failed: claims.lineage_id, claims.version"))

	s := store.New(db, nil)
	_, err = s.Supersede(context.Background(), "claim-v1", "Corrected finding", "rival won the race")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrustScores_DriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM agents").WillReturnError(errors.New("disk I/O error"))

	s := store.New(db, nil)
	_, err = s.TrustScores(context.Background(), []string{"agent-1"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
