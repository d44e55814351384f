package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tg-crm/internal/database/models"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS deliveries (
	message_id   TEXT    NOT NULL,
	recipient_id TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	error_text   TEXT    NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (message_id, recipient_id)
);
CREATE INDEX IF NOT EXISTS deliveries_status ON deliveries (message_id, status);
`

var sqlitePragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA journal_mode = WAL",
}

// SQLiteLedger implements DeliveryLedger on a SQLite file. The composite primary key
// enforces one record per (message, recipient) pair.
type SQLiteLedger struct {
	db *sqlx.DB
}

type deliveryRow struct {
	MessageID   string `db:"message_id"`
	RecipientID string `db:"recipient_id"`
	Status      string `db:"status"`
	ErrorText   string `db:"error_text"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

// OpenSQLiteLedger opens (and migrates) the ledger database at path.
// ":memory:" is accepted for tests.
func OpenSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	// SQLite prefers a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	applyPragmas(ctx, db, sqlitePragmas)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger tables: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

// applyPragmas runs tuning statements and reports how many failed. A failed
// pragma is logged; the ledger keeps working with SQLite's defaults.
func applyPragmas(ctx context.Context, db sqlx.ExecerContext, pragmas []string) int {
	failed := 0
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("[SQLiteLedger] Failed to apply pragma")
			failed++
		}
	}
	return failed
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Upsert writes the delivery record with a single INSERT ... ON CONFLICT statement.
func (l *SQLiteLedger) Upsert(ctx context.Context, messageID, recipientID primitive.ObjectID, status models.DeliveryStatus, errorText string) (*models.Delivery, error) {
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	now := time.Now().UnixNano()
	var row deliveryRow
	err := l.db.GetContext(ctx, &row, `
		INSERT INTO deliveries (message_id, recipient_id, status, error_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, recipient_id) DO UPDATE SET
			status = excluded.status,
			error_text = excluded.error_text,
			updated_at = excluded.updated_at
		RETURNING message_id, recipient_id, status, error_text, created_at, updated_at`,
		messageID.Hex(), recipientID.Hex(), string(status), errorText, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting delivery %s/%s: %w", messageID.Hex(), recipientID.Hex(), err)
	}
	return row.toModel()
}

// CountByStatus groups the deliveries of a message by status.
func (l *SQLiteLedger) CountByStatus(ctx context.Context, messageID primitive.ObjectID) (models.StatusCounts, error) {
	var counts models.StatusCounts
	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	err := l.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM deliveries WHERE message_id = ? GROUP BY status`,
		messageID.Hex(),
	)
	if err != nil {
		return counts, fmt.Errorf("counting deliveries of %s: %w", messageID.Hex(), err)
	}
	for _, r := range rows {
		addCount(&counts, r.Status, r.N)
	}
	return counts, nil
}

// ListByMessage returns every delivery record of a message, most recently updated first.
func (l *SQLiteLedger) ListByMessage(ctx context.Context, messageID primitive.ObjectID) ([]models.Delivery, error) {
	var rows []deliveryRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT message_id, recipient_id, status, error_text, created_at, updated_at
		 FROM deliveries WHERE message_id = ? ORDER BY updated_at DESC, recipient_id`,
		messageID.Hex(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries of %s: %w", messageID.Hex(), err)
	}

	deliveries := make([]models.Delivery, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, nil
}

func (r deliveryRow) toModel() (*models.Delivery, error) {
	messageID, err := primitive.ObjectIDFromHex(r.MessageID)
	if err != nil {
		return nil, fmt.Errorf("decoding message id %q: %w", r.MessageID, err)
	}
	recipientID, err := primitive.ObjectIDFromHex(r.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("decoding recipient id %q: %w", r.RecipientID, err)
	}
	return &models.Delivery{
		MessageID:   messageID,
		RecipientID: recipientID,
		Status:      models.DeliveryStatus(r.Status),
		ErrorText:   r.ErrorText,
		CreatedAt:   time.Unix(0, r.CreatedAt),
		UpdatedAt:   time.Unix(0, r.UpdatedAt),
	}, nil
}
