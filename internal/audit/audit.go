// Package audit provides an append-only trail of successful mutations.
// Writes happen after the mutating transaction commits; a failed audit
// write is logged and never fails the operation it describes.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/logger"
)

// Entry is one audit trail row
type Entry struct {
	ID         string                 `db:"id" json:"id"`
	Action     string                 `db:"action" json:"action"`
	EntityType string                 `db:"entity_type" json:"entity_type"`
	EntityID   string                 `db:"entity_id" json:"entity_id"`
	ActorID    string                 `db:"actor_id" json:"actor_id"`
	ActorName  string                 `db:"actor_name" json:"actor_name"`
	Details    map[string]interface{} `db:"-" json:"details,omitempty"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}

// Repository handles audit entry persistence
type Repository struct {
	db *database.DB
}

// NewRepository creates a new audit repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create appends an audit entry
func (r *Repository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_entries (id, action, entity_type, entity_id, actor_id, actor_name, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.QueryRowxContext(ctx, query,
		entry.ID, entry.Action, entry.EntityType, entry.EntityID,
		entry.ActorID, entry.ActorName, detailsJSON,
	).Scan(&entry.CreatedAt)
}

// ListFilter contains filter options for audit entries
type ListFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
}

type entryRow struct {
	Entry
	DetailsRaw []byte `db:"details"`
}

// List lists audit entries with pagination and filtering, newest first
func (r *Repository) List(ctx context.Context, filter *ListFilter, page, perPage int) ([]*Entry, int64, error) {
	args := []interface{}{}
	argPos := 1

	where := " WHERE 1=1"
	if filter != nil {
		if filter.ActorID != "" {
			where += " AND actor_id = $" + strconv.Itoa(argPos)
			args = append(args, filter.ActorID)
			argPos++
		}
		if filter.EntityType != "" {
			where += " AND entity_type = $" + strconv.Itoa(argPos)
			args = append(args, filter.EntityType)
			argPos++
		}
		if filter.EntityID != "" {
			where += " AND entity_id = $" + strconv.Itoa(argPos)
			args = append(args, filter.EntityID)
			argPos++
		}
		if filter.Action != "" {
			where += " AND action = $" + strconv.Itoa(argPos)
			args = append(args, filter.Action)
			argPos++
		}
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_entries"+where, args...); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	query := `
		SELECT id, action, entity_type, entity_id, actor_id, actor_name, details, created_at
		FROM audit_entries` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, perPage, offset)

	var rows []*entryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entry := row.Entry
		if len(row.DetailsRaw) > 0 {
			_ = json.Unmarshal(row.DetailsRaw, &entry.Details)
		}
		entries = append(entries, &entry)
	}

	return entries, total, nil
}

// Recorder writes audit entries without propagating failures
type Recorder struct {
	repo   *Repository
	logger *logger.Logger
}

// NewRecorder creates a new audit recorder
func NewRecorder(repo *Repository, log *logger.Logger) *Recorder {
	return &Recorder{repo: repo, logger: log}
}

// Record appends an audit entry. Failures are logged only; the caller's
// mutation has already committed and must not be rolled back here. A nil
// recorder is a no-op.
func (rec *Recorder) Record(ctx context.Context, entry *Entry) {
	if rec == nil {
		return
	}

	if err := rec.repo.Create(ctx, entry); err != nil {
		rec.logger.Error().
			Err(err).
			Str("action", entry.Action).
			Str("entity_type", entry.EntityType).
			Str("entity_id", entry.EntityID).
			Msg("failed to write audit entry")
	}
}
