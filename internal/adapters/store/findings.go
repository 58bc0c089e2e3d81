package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey/phish-ledger/internal/core"
)

// insertBatchSize bounds the rows of a single multi-row INSERT
const insertBatchSize = 200

const findingColumns = `id, flagged_email_id, phrase, segment, line_number, context, created_at`

var findingFields = map[string]string{
	"phrase":      "phrase",
	"segment":     "segment",
	"line_number": "line_number",
	"context":     "context",
}

type findingRepo struct {
	repoBase
}

func (r *findingRepo) InsertMany(ctx context.Context, emailID int64, findings []core.FindingInput) error {
	now := r.now()
	for start := 0; start < len(findings); start += insertBatchSize {
		end := min(start+insertBatchSize, len(findings))
		batch := findings[start:end]

		values := make([]string, len(batch))
		args := make([]any, 0, len(batch)*6)
		for i, f := range batch {
			values[i] = "(?, ?, ?, ?, ?, ?)"
			args = append(args, emailID, f.Phrase, f.Segment, nullInt(f.LineNumber), f.Context, now)
		}
		_, err := r.exec(ctx, `INSERT INTO findings
			(flagged_email_id, phrase, segment, line_number, context, created_at)
			VALUES `+strings.Join(values, ", "), args...)
		if err != nil {
			return fmt.Errorf("failed to insert findings for email %d: %w", emailID, err)
		}
	}
	return nil
}

func (r *findingRepo) CountsByPhrase(ctx context.Context, emailID int64) (core.PhraseCounts, error) {
	rows, err := r.query(ctx, `SELECT phrase, COUNT(*) FROM findings
		WHERE flagged_email_id = ?
		GROUP BY phrase`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings for email %d: %w", emailID, err)
	}
	defer rows.Close()

	counts := core.PhraseCounts{}
	for rows.Next() {
		var phrase string
		var n int
		if err := rows.Scan(&phrase, &n); err != nil {
			return nil, fmt.Errorf("failed to scan phrase count: %w", err)
		}
		counts[phrase] = n
	}
	return counts, rows.Err()
}

func (r *findingRepo) CountPhrase(ctx context.Context, emailID int64, phrase string) (int, error) {
	var n int
	_, err := r.queryRow(ctx, `SELECT COUNT(*) FROM findings WHERE flagged_email_id = ? AND phrase = ?`,
		[]any{emailID, phrase}, &n)
	if err != nil {
		return 0, fmt.Errorf("failed to count phrase for email %d: %w", emailID, err)
	}
	return n, nil
}

func (r *findingRepo) DeleteAll(ctx context.Context, emailID int64) (int64, error) {
	res, err := r.exec(ctx, `DELETE FROM findings WHERE flagged_email_id = ?`, emailID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete findings for email %d: %w", emailID, err)
	}
	return res.RowsAffected()
}

func (r *findingRepo) DeleteOne(ctx context.Context, id int64) (*core.FindingRef, error) {
	ref := core.FindingRef{ID: id}
	found, err := r.queryRow(ctx,
		`SELECT flagged_email_id, phrase FROM findings WHERE id = ?`+r.d.forUpdate(r.locking),
		[]any{id}, &ref.EmailID, &ref.Phrase)
	if err != nil {
		return nil, fmt.Errorf("failed to look up finding %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	res, err := r.exec(ctx, `DELETE FROM findings WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete finding %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return &ref, nil
}

func (r *findingRepo) Get(ctx context.Context, id int64) (*core.Finding, error) {
	rows, err := r.query(ctx, `SELECT `+findingColumns+` FROM findings WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding %d: %w", id, err)
	}
	findings, err := scanFindings(rows)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		return nil, nil
	}
	return &findings[0], nil
}

func (r *findingRepo) List(ctx context.Context, emailID int64) ([]core.Finding, error) {
	rows, err := r.query(ctx, `SELECT `+findingColumns+` FROM findings
		WHERE flagged_email_id = ?
		ORDER BY created_at, id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings for email %d: %w", emailID, err)
	}
	return scanFindings(rows)
}

func (r *findingRepo) TallyForEmails(ctx context.Context, emailIDs []int64) ([]core.PhraseTally, error) {
	// Chunks cover disjoint email sets, so per chunk counts add up.
	byPhrase := map[string]*core.PhraseTally{}
	for _, chunk := range chunkIDs(emailIDs) {
		in, args := inClause(chunk)
		rows, err := r.query(ctx, `SELECT phrase, COUNT(*), COUNT(DISTINCT flagged_email_id) FROM findings
			WHERE flagged_email_id IN `+in+`
			GROUP BY phrase`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to tally findings: %w", err)
		}
		for rows.Next() {
			var t core.PhraseTally
			if err := rows.Scan(&t.Phrase, &t.Occurrences, &t.Emails); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan tally: %w", err)
			}
			if acc, ok := byPhrase[t.Phrase]; ok {
				acc.Occurrences += t.Occurrences
				acc.Emails += t.Emails
				continue
			}
			byPhrase[t.Phrase] = &t
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read tally: %w", err)
		}
	}

	tallies := make([]core.PhraseTally, 0, len(byPhrase))
	for _, t := range byPhrase {
		tallies = append(tallies, *t)
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].Phrase < tallies[j].Phrase })
	return tallies, nil
}

func (r *findingRepo) DeleteForEmails(ctx context.Context, emailIDs []int64) (int64, error) {
	var total int64
	for _, chunk := range chunkIDs(emailIDs) {
		in, args := inClause(chunk)
		res, err := r.exec(ctx, `DELETE FROM findings WHERE flagged_email_id IN `+in, args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete findings: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read delete result: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *findingRepo) UpdateFields(ctx context.Context, id int64, fields map[string]any) (bool, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := findingFields[k]; ok {
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
		if k == "line_number" {
			v, err = intField(k, fields[k])
		} else {
			v, err = stringField(k, fields[k])
		}
		if err != nil {
			return false, err
		}
		set = append(set, findingFields[k]+" = ?")
		args = append(args, v)
	}
	args = append(args, id)

	res, err := r.exec(ctx, `UPDATE findings SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update finding %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

func scanFindings(rows *sql.Rows) ([]core.Finding, error) {
	defer rows.Close()

	findings := []core.Finding{}
	for rows.Next() {
		var (
			f    core.Finding
			line sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.EmailID, &f.Phrase, &f.Segment, &line, &f.Context, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.LineNumber = intPtr(line)
		f.CreatedAt = f.CreatedAt.UTC()
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read findings: %w", err)
	}
	return findings, nil
}

var _ core.FindingStore = (*findingRepo)(nil)
