// Package numbering hands out sequential human-readable document
// numbers like REQ-2026-000123, one sequence per document type and
// year.
package numbering

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/stockroom/stockroom-backend/pkg/database"
	"github.com/stockroom/stockroom-backend/pkg/errors"
)

// Document type prefixes
const (
	DocTypeRequisition = "REQ"
	DocTypeIssue       = "ISS"
	DocTypeReturn      = "RET"
)

// Generator allocates document numbers from per-type-and-year sequence
// rows. The sequence row is locked for the duration of the allocation,
// so concurrent callers never share a number.
type Generator struct {
	db *database.DB
}

// NewGenerator creates a new number generator
func NewGenerator(db *database.DB) *Generator {
	return &Generator{db: db}
}

// Next returns the next number for a document type and year, formatted
// as <TYPE>-<year>-<seq zero-padded to 6>.
func (g *Generator) Next(ctx context.Context, docType string, year int) (string, error) {
	switch docType {
	case DocTypeRequisition, DocTypeIssue, DocTypeReturn:
	default:
		return "", errors.BadRequest(fmt.Sprintf("unknown document type %q", docType))
	}

	var seq int64
	err := g.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		// The upsert guarantees the row exists before the locking read.
		_, err := tx.Exec(`
			INSERT INTO document_sequences (doc_type, year, last_value)
			VALUES ($1, $2, 0)
			ON CONFLICT (doc_type, year) DO NOTHING
		`, docType, year)
		if err != nil {
			return err
		}

		if err := tx.Get(&seq, `
			SELECT last_value FROM document_sequences
			WHERE doc_type = $1 AND year = $2
			FOR UPDATE
		`, docType, year); err != nil {
			return err
		}

		seq++
		_, err = tx.Exec(`
			UPDATE document_sequences
			SET last_value = $3
			WHERE doc_type = $1 AND year = $2
		`, docType, year, seq)
		return err
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%d-%06d", docType, year, seq), nil
}
