package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/deploygw/internal/deploy"
)

// timeLayout is fixed-width so received_at sorts chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DeployLog is the deploy history kept in SQLite.
type DeployLog struct {
	db  *sql.DB
	now func() time.Time
}

// NewDeployLog wraps an opened database.
func NewDeployLog(db *sql.DB) *DeployLog {
	return &DeployLog{db: db, now: time.Now}
}

// Notify records ev, making the history usable as a dispatch notifier.
func (l *DeployLog) Notify(ctx context.Context, ev deploy.Event) error {
	_, err := l.Record(ctx, ev)
	return err
}

// Record stores ev and returns the stored row.
func (l *DeployLog) Record(ctx context.Context, ev deploy.Event) (deploy.Record, error) {
	rec := deploy.NewRecord(uuid.NewString(), ev, l.now())

	_, err := l.db.ExecContext(ctx, `
INSERT INTO deploy_log(
  id, deploy_id, site_id, site_name, event, deploy_url, branch, error_message, received_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.DeployID, nullString(rec.SiteID), nullString(rec.SiteName), rec.Event,
		nullString(rec.DeployURL), nullString(rec.Branch), nullString(rec.ErrorMessage),
		rec.ReceivedAt.Format(timeLayout))
	if err != nil {
		return deploy.Record{}, fmt.Errorf("record deploy event: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (l *DeployLog) Recent(ctx context.Context, limit int) ([]deploy.Record, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, deploy_id, site_id, site_name, event, deploy_url, branch, error_message, received_at
FROM deploy_log
ORDER BY received_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deploy log: %w", err)
	}
	defer rows.Close()

	var out []deploy.Record
	for rows.Next() {
		var (
			rec         deploy.Record
			siteID      sql.NullString
			siteName    sql.NullString
			deployURL   sql.NullString
			branch      sql.NullString
			errMessage  sql.NullString
			receivedAtS string
		)
		if err := rows.Scan(&rec.ID, &rec.DeployID, &siteID, &siteName, &rec.Event,
			&deployURL, &branch, &errMessage, &receivedAtS); err != nil {
			return nil, fmt.Errorf("scan deploy log: %w", err)
		}
		rec.SiteID = siteID.String
		rec.SiteName = siteName.String
		rec.DeployURL = deployURL.String
		rec.Branch = branch.String
		rec.ErrorMessage = errMessage.String

		receivedAt, err := time.Parse(timeLayout, receivedAtS)
		if err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", receivedAtS, err)
		}
		rec.ReceivedAt = receivedAt

		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deploy log: %w", err)
	}
	return out, nil
}

// Prune deletes records received before cutoff and returns how many were removed.
func (l *DeployLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM deploy_log WHERE received_at < ?;`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune deploy log: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
