package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrVersionConflict is returned when an optimistic update loses the race:
// the stored workflow instance version no longer matches the one the caller
// read.
var ErrVersionConflict = errors.New("workflow instance version conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, workflow_role, is_external FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.WorkflowRole, &user.IsExternal)
	if err == nil {
		role, roleErr := s.getRole(ctx, user.ID)
		if roleErr != nil {
			return User{}, roleErr
		}
		user.Role = role
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.pubworks.dev'))
		RETURNING id, display_name, is_external
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.IsExternal); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, role)
		VALUES ($1, 'editor')
		ON CONFLICT (user_id) DO NOTHING
	`, user.ID); err != nil {
		return User{}, fmt.Errorf("upsert membership: %w", err)
	}

	user.Role = "editor"
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, workflow_role, is_external, is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.WorkflowRole, &user.IsExternal, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, workflow_role, is_external, is_email_verified
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.WorkflowRole, &user.IsExternal, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, workflow_role, is_external, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.WorkflowRole, user.IsExternal, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	role := user.Role
	if role == "" {
		role = "editor"
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, user.ID, role); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.workflow_role, COALESCE(m.role, 'viewer')
		FROM users u
		LEFT JOIN memberships m ON m.user_id = u.id
		WHERE u.deactivated_at IS NULL
		ORDER BY u.display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.WorkflowRole, &user.Role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetWorkflowRole(ctx context.Context, userID, workflowRole string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET workflow_role=$2, updated_at=NOW() WHERE id=$1`, userID, workflowRole)
	if err != nil {
		return fmt.Errorf("set workflow role: %w", err)
	}
	return nil
}

func (s *PostgresStore) getRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM memberships WHERE user_id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "viewer", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.workflow_role, COALESCE(m.role, 'viewer'), u.is_external
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		LEFT JOIN memberships m ON m.user_id = u.id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.WorkflowRole, &user.Role, &user.IsExternal)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.subtitle, d.status, d.owner_id, COALESCE(u.display_name, ''), d.updated_by_name, d.created_at, d.updated_at
		FROM documents d
		LEFT JOIN users u ON u.id = d.owner_id
		ORDER BY d.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Subtitle, &item.Status, &item.OwnerID, &item.OwnerName, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.subtitle, d.status, d.owner_id, COALESCE(u.display_name, ''), d.updated_by_name, d.created_at, d.updated_at
		FROM documents d
		LEFT JOIN users u ON u.id = d.owner_id
		WHERE d.id=$1
	`, documentID).Scan(&item.ID, &item.Title, &item.Subtitle, &item.Status, &item.OwnerID, &item.OwnerName, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, subtitle, status, owner_id, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Title, item.Subtitle, item.Status, item.OwnerID, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, documentID, title, subtitle, status, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, subtitle=$3, status=$4, updated_by_name=$5, updated_at=NOW()
		WHERE id=$1
	`, documentID, title, subtitle, status, updatedBy)
	if err != nil {
		return fmt.Errorf("update document state: %w", err)
	}
	return nil
}

func (s *PostgresStore) TransferDocumentOwner(ctx context.Context, documentID, newOwnerID, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET owner_id=$2, updated_by_name=$3, updated_at=NOW() WHERE id=$1
	`, documentID, newOwnerID, updatedBy)
	if err != nil {
		return fmt.Errorf("transfer document owner: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transfer document owner result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetWorkflowInstance(ctx context.Context, documentID string) (WorkflowInstance, error) {
	var instance WorkflowInstance
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, definition_id, current_stage_id, version, created_at, updated_at
		FROM workflow_instances WHERE document_id=$1
	`, documentID).Scan(&instance.DocumentID, &instance.DefinitionID, &instance.CurrentStageID, &instance.Version, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return WorkflowInstance{}, err
	}
	return instance, nil
}

func (s *PostgresStore) InsertWorkflowInstance(ctx context.Context, instance WorkflowInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (document_id, definition_id, current_stage_id, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO NOTHING
	`, instance.DocumentID, instance.DefinitionID, instance.CurrentStageID, instance.Version)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	return nil
}

// AdvanceInstanceStage moves an instance to a new stage with compare-and-swap
// semantics: the update only lands if the stored version still equals
// fromVersion. A lost race returns ErrVersionConflict and changes nothing.
func (s *PostgresStore) AdvanceInstanceStage(ctx context.Context, documentID string, fromVersion int, newStageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_stage_id=$3, version=version+1, updated_at=NOW()
		WHERE document_id=$1 AND version=$2
	`, documentID, fromVersion, newStageID)
	if err != nil {
		return fmt.Errorf("advance instance stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance instance result: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) InsertTransition(ctx context.Context, record TransitionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_transitions (document_id, action_id, action_label, from_stage_id, to_stage_id, actor_id, actor_name, actor_role, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, record.DocumentID, record.ActionID, record.ActionLabel, record.FromStageID, record.ToStageID, record.ActorID, record.ActorName, record.ActorRole, record.Comment)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTransitions(ctx context.Context, documentID string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, action_id, action_label, from_stage_id, to_stage_id, actor_id, actor_name, actor_role, comment, created_at
		FROM workflow_transitions
		WHERE document_id=$1
		ORDER BY id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	items := make([]TransitionRecord, 0)
	for rows.Next() {
		var record TransitionRecord
		if err := rows.Scan(&record.ID, &record.DocumentID, &record.ActionID, &record.ActionLabel, &record.FromStageID, &record.ToStageID, &record.ActorID, &record.ActorName, &record.ActorRole, &record.Comment, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertWorkflowDefinition(ctx context.Context, record WorkflowDefinitionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, version, document, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, version=EXCLUDED.version, document=EXCLUDED.document, active=EXCLUDED.active
	`, record.ID, record.Name, record.Version, record.Document, record.Active, record.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert workflow definition: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflowDefinition(ctx context.Context, id string) (WorkflowDefinitionRecord, error) {
	var record WorkflowDefinitionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, document, active, created_by, created_at
		FROM workflow_definitions WHERE id=$1
	`, id).Scan(&record.ID, &record.Name, &record.Version, &record.Document, &record.Active, &record.CreatedBy, &record.CreatedAt)
	if err != nil {
		return WorkflowDefinitionRecord{}, err
	}
	return record, nil
}

func (s *PostgresStore) ListWorkflowDefinitions(ctx context.Context) ([]WorkflowDefinitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, document, active, created_by, created_at
		FROM workflow_definitions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflow definitions: %w", err)
	}
	defer rows.Close()

	items := make([]WorkflowDefinitionRecord, 0)
	for rows.Next() {
		var record WorkflowDefinitionRecord
		if err := rows.Scan(&record.ID, &record.Name, &record.Version, &record.Document, &record.Active, &record.CreatedBy, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow definition: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow definitions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertDistributionRound(ctx context.Context, round DistributionRound, reviewerIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin distribution tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO distribution_rounds (id, document_id, stage_id, comment, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, round.ID, round.DocumentID, round.StageID, round.Comment, round.CreatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert distribution round: %w", err)
	}

	for _, reviewerID := range reviewerIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO round_reviewers (round_id, reviewer_id)
			VALUES ($1, $2)
			ON CONFLICT (round_id, reviewer_id) DO NOTHING
		`, round.ID, reviewerID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert round reviewer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit distribution tx: %w", err)
	}
	return nil
}

// GetOpenRound returns the newest incomplete round for a document, or nil.
func (s *PostgresStore) GetOpenRound(ctx context.Context, documentID string) (*DistributionRound, error) {
	const query = `
		SELECT id, document_id, stage_id, comment, created_by, created_at, completed_at
		FROM distribution_rounds
		WHERE document_id=$1 AND completed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var round DistributionRound
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(&round.ID, &round.DocumentID, &round.StageID, &round.Comment, &round.CreatedBy, &round.CreatedAt, &round.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open round: %w", err)
	}
	return &round, nil
}

func (s *PostgresStore) ListRoundReviewers(ctx context.Context, roundID string) ([]RoundReviewer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rr.round_id, rr.reviewer_id, COALESCE(u.display_name, ''), rr.submitted_at
		FROM round_reviewers rr
		LEFT JOIN users u ON u.id = rr.reviewer_id
		WHERE rr.round_id=$1
		ORDER BY u.display_name
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("list round reviewers: %w", err)
	}
	defer rows.Close()

	items := make([]RoundReviewer, 0)
	for rows.Next() {
		var reviewer RoundReviewer
		if err := rows.Scan(&reviewer.RoundID, &reviewer.ReviewerID, &reviewer.ReviewerName, &reviewer.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan round reviewer: %w", err)
		}
		items = append(items, reviewer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round reviewers: %w", err)
	}
	return items, nil
}

// MarkReviewSubmitted is idempotent: an already-submitted review keeps its
// original timestamp.
func (s *PostgresStore) MarkReviewSubmitted(ctx context.Context, roundID, reviewerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE round_reviewers SET submitted_at=COALESCE(submitted_at, NOW())
		WHERE round_id=$1 AND reviewer_id=$2
	`, roundID, reviewerID)
	if err != nil {
		return fmt.Errorf("mark review submitted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark review result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CompleteRound(ctx context.Context, roundID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE distribution_rounds SET completed_at=NOW() WHERE id=$1 AND completed_at IS NULL
	`, roundID)
	if err != nil {
		return fmt.Errorf("complete round: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertFeedback(ctx context.Context, record FeedbackRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback_items (
			id, document_id, round_id, reviewer_id, component, poc_name, poc_phone, poc_email,
			comment_type, severity, page, paragraph_number, line_number, change_from, change_to, justification, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, record.ID, record.DocumentID, record.RoundID, record.ReviewerID, record.Component, record.POCName, record.POCPhone, record.POCEmail,
		record.CommentType, record.Severity, record.Page, record.ParagraphNumber, record.LineNumber, record.ChangeFrom, record.ChangeTo, record.Justification, record.Status)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedbackByDocument(ctx context.Context, documentID string) ([]FeedbackRecord, error) {
	return s.listFeedback(ctx, `WHERE f.document_id=$1`, documentID)
}

func (s *PostgresStore) ListFeedbackByRound(ctx context.Context, roundID string) ([]FeedbackRecord, error) {
	return s.listFeedback(ctx, `WHERE f.round_id=$1`, roundID)
}

func (s *PostgresStore) listFeedback(ctx context.Context, where string, arg any) ([]FeedbackRecord, error) {
	query := `
		SELECT f.id, f.document_id, f.round_id, f.reviewer_id, COALESCE(u.display_name, ''),
			f.component, f.poc_name, f.poc_phone, f.poc_email, f.comment_type, f.severity,
			f.page, f.paragraph_number, f.line_number, f.change_from, f.change_to, f.justification,
			f.status, f.created_at, f.updated_at
		FROM feedback_items f
		LEFT JOIN users u ON u.id = f.reviewer_id
		` + where + `
		ORDER BY f.created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	items := make([]FeedbackRecord, 0)
	for rows.Next() {
		var record FeedbackRecord
		if err := rows.Scan(&record.ID, &record.DocumentID, &record.RoundID, &record.ReviewerID, &record.ReviewerName,
			&record.Component, &record.POCName, &record.POCPhone, &record.POCEmail, &record.CommentType, &record.Severity,
			&record.Page, &record.ParagraphNumber, &record.LineNumber, &record.ChangeFrom, &record.ChangeTo, &record.Justification,
			&record.Status, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateFeedbackStatus(ctx context.Context, feedbackID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE feedback_items SET status=$2, updated_at=NOW() WHERE id=$1
	`, feedbackID, status)
	if err != nil {
		return fmt.Errorf("update feedback status: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertPublishedArtifact(ctx context.Context, artifact PublishedArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO published_artifacts (id, document_id, object_key, content_type, size_bytes, published_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, artifact.ID, artifact.DocumentID, artifact.ObjectKey, artifact.ContentType, artifact.SizeBytes, artifact.PublishedBy)
	if err != nil {
		return fmt.Errorf("insert published artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPublishedArtifacts(ctx context.Context, documentID string) ([]PublishedArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, object_key, content_type, size_bytes, published_by, published_at
		FROM published_artifacts
		WHERE document_id=$1
		ORDER BY published_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list published artifacts: %w", err)
	}
	defer rows.Close()

	items := make([]PublishedArtifact, 0)
	for rows.Next() {
		var artifact PublishedArtifact
		if err := rows.Scan(&artifact.ID, &artifact.DocumentID, &artifact.ObjectKey, &artifact.ContentType, &artifact.SizeBytes, &artifact.PublishedBy, &artifact.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan published artifact: %w", err)
		}
		items = append(items, artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published artifacts: %w", err)
	}
	return items, nil
}
