package store

import (
	"context"
	"encoding/json"
	"fmt"

	"pharmacy-service/internal/models"
)

// InsertAudit writes an audit entry in the same transaction as the change it describes
func (t *Tx) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (user_id, action, table_name, record_id, old_values, new_values)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`

	if err := t.tx.GetContext(ctx, entry, t.tx.Rebind(query),
		entry.UserID, entry.Action, entry.TableName, entry.RecordID,
		entry.OldValues, entry.NewValues); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries for a table, newest first
func (s *Store) ListAudit(ctx context.Context, tableName string, limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := s.db.SelectContext(ctx, &entries, s.db.Rebind(`
		SELECT id, user_id, action, table_name, record_id, old_values, new_values, created_at
		FROM audit_logs WHERE table_name = ?
		ORDER BY id DESC LIMIT ?`), tableName, limit)
	return entries, err
}

func auditJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
