package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/phiacta/phiacta/db"
	"github.com/phiacta/phiacta/errors"
)

// Query constants
const (
	claimColumns = `id, lineage_id, version, content, formal_content, claim_type,
		status, supersedes, external_ref, created_by, created_at, attrs,
		repo_path, head_sha, repo_status`

	claimInsertQuery = `
		INSERT INTO claims (id, lineage_id, version, content, formal_content,
			claim_type, status, supersedes, external_ref, created_by,
			created_at, attrs, repo_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	claimLatestQuery = `
		SELECT ` + claimColumns + ` FROM claims
		WHERE lineage_id = ? AND status != 'retracted'
		ORDER BY version DESC LIMIT 1`

	claimLatestAnyQuery = `
		SELECT ` + claimColumns + ` FROM claims
		WHERE lineage_id = ?
		ORDER BY version DESC LIMIT 1`

	claimHistoryQuery = `
		SELECT ` + claimColumns + ` FROM claims
		WHERE lineage_id = ?
		ORDER BY version ASC`
)

// NewClaim carries the caller-supplied fields for claim creation.
type NewClaim struct {
	Content       string
	FormalContent string
	ClaimType     string
	Status        string // defaults to draft
	ExternalRef   string
	CreatedBy     string
	Attrs         map[string]any
}

// CreateClaim starts a new lineage at version 1.
func (s *Store) CreateClaim(ctx context.Context, nc NewClaim) (*Claim, error) {
	claim, err := buildClaim(nc)
	if err != nil {
		return nil, err
	}
	if err := insertClaim(ctx, s.db, claim); err != nil {
		return nil, err
	}
	s.logger.Debugw("claim created",
		"claim_id", claim.ID,
		"lineage_id", claim.LineageID,
		"claim_type", claim.ClaimType,
	)
	return claim, nil
}

// CreateClaimTx inserts a claim inside an existing transaction. Used by
// the bundle pipeline, which owns the transaction boundary.
func (s *Store) CreateClaimTx(ctx context.Context, tx *sql.Tx, nc NewClaim) (*Claim, error) {
	claim, err := buildClaim(nc)
	if err != nil {
		return nil, err
	}
	if err := insertClaim(ctx, tx, claim); err != nil {
		return nil, err
	}
	return claim, nil
}

func buildClaim(nc NewClaim) (*Claim, error) {
	if nc.Content == "" {
		return nil, errors.Wrap(errors.ErrValidation, "claim content must not be empty")
	}
	if nc.ClaimType == "" {
		return nil, errors.Wrap(errors.ErrValidation, "claim type must not be empty")
	}
	status := nc.Status
	if status == "" {
		status = ClaimStatusDraft
	}
	return &Claim{
		ID:            uuid.NewString(),
		LineageID:     uuid.NewString(),
		Version:       1,
		Content:       nc.Content,
		FormalContent: nc.FormalContent,
		ClaimType:     nc.ClaimType,
		Status:        status,
		ExternalRef:   nc.ExternalRef,
		CreatedBy:     nc.CreatedBy,
		CreatedAt:     time.Now().UTC(),
		Attrs:         nc.Attrs,
		RepoStatus:    RepoStatusNone,
	}, nil
}

func insertClaim(ctx context.Context, q execer, c *Claim) error {
	attrsJSON, err := marshalAttrs(c.Attrs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, claimInsertQuery,
		c.ID,
		c.LineageID,
		c.Version,
		c.Content,
		nullable(c.FormalContent),
		c.ClaimType,
		c.Status,
		nullable(c.Supersedes),
		nullable(c.ExternalRef),
		c.CreatedBy,
		c.CreatedAt,
		attrsJSON,
		c.RepoStatus,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrapf(errors.ErrConflict,
				"version %d of lineage %s already exists", c.Version, c.LineageID)
		}
		return errors.Wrap(err, "insert claim")
	}
	return nil
}

// Supersede atomically inserts version N+1 of claimID's lineage with
// supersedes pointing at claimID. Fails with ErrInvalidState when
// claimID is not the lineage's current latest version. The new version
// carries the predecessor's status; the old version's status is left
// unchanged (callers decide whether to mark it deprecated). Two
// concurrent supersedes on one lineage cannot both succeed: the
// (lineage_id, version) uniqueness constraint rejects the loser with
// ErrConflict, which should retry after re-reading Latest.
func (s *Store) Supersede(ctx context.Context, claimID, newContent, reason string) (*Claim, error) {
	if newContent == "" {
		return nil, errors.Wrap(errors.ErrValidation, "new content must not be empty")
	}

	prev, err := s.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	latest, err := s.Latest(ctx, prev.LineageID, true)
	if err != nil {
		return nil, err
	}
	if latest.ID != claimID {
		return nil, errors.Wrapf(errors.ErrInvalidState,
			"claim %s is version %d but lineage %s is at version %d",
			claimID, prev.Version, prev.LineageID, latest.Version)
	}

	attrs := map[string]any{}
	if reason != "" {
		attrs["supersede_reason"] = reason
	}

	next := &Claim{
		ID:            uuid.NewString(),
		LineageID:     prev.LineageID,
		Version:       prev.Version + 1,
		Content:       newContent,
		FormalContent: prev.FormalContent,
		ClaimType:     prev.ClaimType,
		Status:        prev.Status,
		Supersedes:    prev.ID,
		ExternalRef:   prev.ExternalRef,
		CreatedBy:     prev.CreatedBy,
		CreatedAt:     time.Now().UTC(),
		Attrs:         attrs,
		RepoStatus:    RepoStatusNone,
	}

	if err := insertClaim(ctx, s.db, next); err != nil {
		return nil, err
	}

	s.logger.Debugw("claim superseded",
		"lineage_id", next.LineageID,
		"old_version", prev.Version,
		"new_version", next.Version,
	)
	return next, nil
}

// ExtendLineageTx inserts the next version of an existing lineage inside
// a transaction, superseding its current latest version. The bundle
// pipeline uses this for claims that declare a lineage to extend. The
// same (lineage_id, version) constraint as Supersede settles races.
func (s *Store) ExtendLineageTx(ctx context.Context, tx *sql.Tx, lineageID string, nc NewClaim) (*Claim, error) {
	if nc.Content == "" {
		return nil, errors.Wrap(errors.ErrValidation, "claim content must not be empty")
	}

	prev, err := scanClaim(tx.QueryRowContext(ctx, claimLatestAnyQuery, lineageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "lineage %s", lineageID)
	}
	if err != nil {
		return nil, err
	}

	claimType := nc.ClaimType
	if claimType == "" {
		claimType = prev.ClaimType
	}
	status := nc.Status
	if status == "" {
		status = prev.Status
	}

	next := &Claim{
		ID:            uuid.NewString(),
		LineageID:     lineageID,
		Version:       prev.Version + 1,
		Content:       nc.Content,
		FormalContent: nc.FormalContent,
		ClaimType:     claimType,
		Status:        status,
		Supersedes:    prev.ID,
		ExternalRef:   nc.ExternalRef,
		CreatedBy:     nc.CreatedBy,
		CreatedAt:     time.Now().UTC(),
		Attrs:         nc.Attrs,
		RepoStatus:    RepoStatusNone,
	}
	if err := insertClaim(ctx, tx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Latest returns the highest-version claim of a lineage. Retracted
// versions are excluded unless includeRetracted is set.
func (s *Store) Latest(ctx context.Context, lineageID string, includeRetracted bool) (*Claim, error) {
	query := claimLatestQuery
	if includeRetracted {
		query = claimLatestAnyQuery
	}
	claim, err := scanClaim(s.db.QueryRowContext(ctx, query, lineageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "lineage %s", lineageID)
	}
	return claim, err
}

// History returns all versions of a lineage in ascending version order.
func (s *Store) History(ctx context.Context, lineageID string) ([]*Claim, error) {
	rows, err := s.db.QueryContext(ctx, claimHistoryQuery, lineageID)
	if err != nil {
		return nil, errors.Wrap(err, "query claim history")
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate claim history")
	}
	if len(claims) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "lineage %s", lineageID)
	}
	return claims, nil
}

// GetClaim fetches a single claim version by id.
func (s *Store) GetClaim(ctx context.Context, id string) (*Claim, error) {
	return getClaim(ctx, s.db, id)
}

func getClaim(ctx context.Context, q execer, id string) (*Claim, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE id = ?`, id)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "claim %s", id)
	}
	return claim, err
}

// ClaimExists reports whether a claim id exists, usable inside a
// transaction for reference validation.
func ClaimExists(ctx context.Context, q execer, id string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM claims WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check claim exists")
	}
	return exists, nil
}

// SetClaimStatus updates only the status flag. Content and lineage stay
// immutable; there is no destructive update path for claim content.
func (s *Store) SetClaimStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claims SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return errors.Wrap(err, "update claim status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "claim %s", id)
	}
	return nil
}

// SetRepoState records the external content repository's state on the
// owning claim. The outbox worker is the only writer.
func (s *Store) SetRepoState(ctx context.Context, id, repoPath, headSHA, repoStatus string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE claims SET
			repo_path = COALESCE(?, repo_path),
			head_sha = COALESCE(?, head_sha),
			repo_status = ?
		WHERE id = ?`,
		nullable(repoPath), nullable(headSHA), repoStatus, id)
	if err != nil {
		return errors.Wrap(err, "update claim repo state")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "claim %s", id)
	}
	return nil
}

// FindClaimsByExternalRef returns claims carrying the given external
// identifier. Used by the pending-reference resolution sweep.
func (s *Store) FindClaimsByExternalRef(ctx context.Context, ref string) ([]*Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE external_ref = ? ORDER BY created_at ASC`, ref)
	if err != nil {
		return nil, errors.Wrap(err, "query claims by external ref")
	}
	defer rows.Close()

	var claims []*Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*Claim, error) {
	var c Claim
	var formalContent, supersedes, externalRef, repoPath, headSHA sql.NullString
	var attrsJSON string

	err := row.Scan(
		&c.ID,
		&c.LineageID,
		&c.Version,
		&c.Content,
		&formalContent,
		&c.ClaimType,
		&c.Status,
		&supersedes,
		&externalRef,
		&c.CreatedBy,
		&c.CreatedAt,
		&attrsJSON,
		&repoPath,
		&headSHA,
		&c.RepoStatus,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan claim")
	}

	c.FormalContent = formalContent.String
	c.Supersedes = supersedes.String
	c.ExternalRef = externalRef.String
	c.RepoPath = repoPath.String
	c.HeadSHA = headSHA.String

	c.Attrs, err = unmarshalAttrs(attrsJSON)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// nullable converts empty strings to NULL for optional TEXT columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
