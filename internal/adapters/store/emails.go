package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mikey/phish-ledger/internal/core"
)

const emailColumns = `id, content_fingerprint, subject, sender, recipient, message_date,
	total_findings, raw_content, risk_level, times_analyzed, flagged_at`

// emailFields maps the updatable field names onto columns
var emailFields = map[string]string{
	"subject":      "subject",
	"sender":       "sender",
	"recipient":    "recipient",
	"message_date": "message_date",
	"risk_level":   "risk_level",
}

type emailRepo struct {
	repoBase
}

func (r *emailRepo) Upsert(ctx context.Context, fingerprint string, email *core.EmailDescriptor, findingCount int) (int64, bool, error) {
	now := r.now()
	args := []any{
		fingerprint,
		email.Subject,
		email.Sender,
		email.Recipient,
		nullTime(email.MessageDate),
		findingCount,
		strings.ToValidUTF8(string(email.RawContent), "�"),
		email.RiskLevel,
		now,
	}
	const insert = `INSERT INTO flagged_emails
		(content_fingerprint, subject, sender, recipient, message_date, total_findings, raw_content, risk_level, times_analyzed, flagged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`

	switch r.d {
	case dialectPostgres:
		var id int64
		var inserted bool
		_, err := r.queryRow(ctx, insert+`
			ON CONFLICT (content_fingerprint) DO UPDATE SET
				total_findings = EXCLUDED.total_findings,
				flagged_at = EXCLUDED.flagged_at,
				times_analyzed = flagged_emails.times_analyzed + 1
			RETURNING id, (xmax = 0)`, args, &id, &inserted)
		if err != nil {
			return 0, false, fmt.Errorf("failed to upsert flagged email: %w", err)
		}
		return id, inserted, nil

	case dialectMySQL:
		res, err := r.exec(ctx, insert+`
			ON DUPLICATE KEY UPDATE
				id = LAST_INSERT_ID(id),
				total_findings = VALUES(total_findings),
				flagged_at = VALUES(flagged_at),
				times_analyzed = times_analyzed + 1`, args...)
		if err != nil {
			return 0, false, fmt.Errorf("failed to upsert flagged email: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read flagged email id: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read upsert result: %w", err)
		}
		// 1 for an insert, 2 for an update of an existing row
		return id, affected == 1, nil

	default:
		var id int64
		var timesAnalyzed int
		_, err := r.queryRow(ctx, insert+`
			ON CONFLICT (content_fingerprint) DO UPDATE SET
				total_findings = excluded.total_findings,
				flagged_at = excluded.flagged_at,
				times_analyzed = flagged_emails.times_analyzed + 1
			RETURNING id, times_analyzed`, args, &id, &timesAnalyzed)
		if err != nil {
			return 0, false, fmt.Errorf("failed to upsert flagged email: %w", err)
		}
		return id, timesAnalyzed == 1, nil
	}
}

func (r *emailRepo) LockForUpdate(ctx context.Context, id int64) (bool, error) {
	var locked int64
	found, err := r.queryRow(ctx,
		`SELECT id FROM flagged_emails WHERE id = ?`+r.d.forUpdate(r.locking),
		[]any{id}, &locked)
	if err != nil {
		return false, fmt.Errorf("failed to lock flagged email %d: %w", id, err)
	}
	return found, nil
}

func (r *emailRepo) GetByID(ctx context.Context, id int64) (*core.FlaggedEmail, error) {
	rows, err := r.query(ctx, `SELECT `+emailColumns+` FROM flagged_emails WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged email: %w", err)
	}
	emails, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, nil
	}
	return &emails[0], nil
}

func (r *emailRepo) List(ctx context.Context, limit, offset int) ([]core.FlaggedEmail, error) {
	rows, err := r.query(ctx, `SELECT `+emailColumns+` FROM flagged_emails
		ORDER BY flagged_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged emails: %w", err)
	}
	return scanEmails(rows)
}

func (r *emailRepo) Count(ctx context.Context) (int, error) {
	var n int
	if _, err := r.queryRow(ctx, `SELECT COUNT(*) FROM flagged_emails`, nil, &n); err != nil {
		return 0, fmt.Errorf("failed to count flagged emails: %w", err)
	}
	return n, nil
}

func (r *emailRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.exec(ctx, `DELETE FROM flagged_emails WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete flagged email %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

func (r *emailRepo) OlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.query(ctx,
		`SELECT id FROM flagged_emails WHERE flagged_at < ? ORDER BY id`+r.d.forUpdate(r.locking),
		cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to select old flagged emails: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan flagged email id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *emailRepo) DeleteMany(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(ids) {
		in, args := inClause(chunk)
		res, err := r.exec(ctx, `DELETE FROM flagged_emails WHERE id IN `+in, args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete flagged emails: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read delete result: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *emailRepo) UpdateFields(ctx context.Context, id int64, fields map[string]any) (bool, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := emailFields[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return false, nil
	}
	sort.Strings(keys)

	set := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		var (
			v   any
			err error
		)
		if k == "message_date" {
			v, err = timeField(k, fields[k])
		} else {
			v, err = stringField(k, fields[k])
		}
		if err != nil {
			return false, err
		}
		set = append(set, emailFields[k]+" = ?")
		args = append(args, v)
	}
	args = append(args, id)

	res, err := r.exec(ctx, `UPDATE flagged_emails SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update flagged email %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

func (r *emailRepo) Summary(ctx context.Context) (*core.ReportSummary, error) {
	var s core.ReportSummary
	_, err := r.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_findings), 0), COUNT(DISTINCT content_fingerprint)
		FROM flagged_emails`, nil, &s.TotalFlaggedEmails, &s.TotalFindings, &s.UniqueEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize flagged emails: %w", err)
	}
	return &s, nil
}

func (r *emailRepo) Recent(ctx context.Context, limit int) ([]core.RecentActivity, error) {
	rows, err := r.query(ctx, `SELECT id, subject, flagged_at, total_findings FROM flagged_emails
		ORDER BY flagged_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	defer rows.Close()

	activity := []core.RecentActivity{}
	for rows.Next() {
		var a core.RecentActivity
		if err := rows.Scan(&a.ID, &a.Subject, &a.FlaggedAt, &a.TotalFindings); err != nil {
			return nil, fmt.Errorf("failed to scan recent activity: %w", err)
		}
		a.FlaggedAt = a.FlaggedAt.UTC()
		activity = append(activity, a)
	}
	return activity, rows.Err()
}

func scanEmails(rows *sql.Rows) ([]core.FlaggedEmail, error) {
	defer rows.Close()

	emails := []core.FlaggedEmail{}
	for rows.Next() {
		var (
			e           core.FlaggedEmail
			messageDate sql.NullTime
		)
		err := rows.Scan(&e.ID, &e.Fingerprint, &e.Subject, &e.Sender, &e.Recipient, &messageDate,
			&e.TotalFindings, &e.RawContent, &e.RiskLevel, &e.TimesAnalyzed, &e.FlaggedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flagged email: %w", err)
		}
		e.MessageDate = timePtr(messageDate)
		e.FlaggedAt = e.FlaggedAt.UTC()
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read flagged emails: %w", err)
	}
	return emails, nil
}

var _ core.EmailStore = (*emailRepo)(nil)
