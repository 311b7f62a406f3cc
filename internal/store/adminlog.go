package store

import (
	"context"
	"fmt"

	"sportstream-relay/internal/model"
)

// AddAdminLog appends an entry to the admin audit log.
func (s *Store) AddAdminLog(ctx context.Context, l *model.AdminLog) error {
	if l.Timestamp.IsZero() {
		l.Timestamp = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_logs (action, username, remote_ip, success, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.Action, l.Username, l.RemoteIP, l.Success, formatTime(l.Timestamp))
	if err != nil {
		return fmt.Errorf("add admin log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

// AdminLogs returns up to limit audit log entries, newest first.
func (s *Store) AdminLogs(ctx context.Context, limit int) ([]model.AdminLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, username, remote_ip, success, created_at
		FROM admin_logs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("admin logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.AdminLog{}
	for rows.Next() {
		var (
			l  model.AdminLog
			ts string
		)
		if err := rows.Scan(&l.ID, &l.Action, &l.Username, &l.RemoteIP, &l.Success, &ts); err != nil {
			return nil, fmt.Errorf("admin logs: scan: %w", err)
		}
		l.Timestamp = parseTime(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}
