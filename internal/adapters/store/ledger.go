package store

import (
	"context"
	"fmt"

	"github.com/mikey/phish-ledger/internal/core"
)

const statisticColumns = `id, phrase, total_occurrences, emails_affected, first_seen, last_seen`

type ledgerRepo struct {
	repoBase
}

// ApplyDelta adds delta to the phrase row, creating it seeded with the
// delta when absent, and removes the row once both counters reach zero.
func (r *ledgerRepo) ApplyDelta(ctx context.Context, phrase string, delta core.Delta) error {
	if delta.IsZero() {
		return nil
	}

	now := r.now()
	if _, err := r.exec(ctx, r.upsertStatement(delta.Additive()),
		phrase, delta.Occurrences, delta.EmailsAffected, now, now); err != nil {
		return fmt.Errorf("failed to apply delta to phrase %q: %w", phrase, err)
	}

	if delta.Additive() {
		return nil
	}
	_, err := r.exec(ctx, `DELETE FROM phrase_statistics
		WHERE phrase = ? AND total_occurrences <= 0 AND emails_affected <= 0`, phrase)
	if err != nil {
		return fmt.Errorf("failed to prune phrase %q: %w", phrase, err)
	}
	return nil
}

func (r *ledgerRepo) upsertStatement(touchLastSeen bool) string {
	const insert = `INSERT INTO phrase_statistics
		(phrase, total_occurrences, emails_affected, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)`

	if r.d == dialectMySQL {
		stmt := insert + `
		ON DUPLICATE KEY UPDATE
			total_occurrences = total_occurrences + VALUES(total_occurrences),
			emails_affected = emails_affected + VALUES(emails_affected)`
		if touchLastSeen {
			stmt += `,
			last_seen = VALUES(last_seen)`
		}
		return stmt
	}

	stmt := insert + `
		ON CONFLICT (phrase) DO UPDATE SET
			total_occurrences = phrase_statistics.total_occurrences + EXCLUDED.total_occurrences,
			emails_affected = phrase_statistics.emails_affected + EXCLUDED.emails_affected`
	if touchLastSeen {
		stmt += `,
			last_seen = EXCLUDED.last_seen`
	}
	return stmt
}

func (r *ledgerRepo) Top(ctx context.Context, limit int) ([]core.PhraseStatistic, error) {
	rows, err := r.query(ctx, `SELECT `+statisticColumns+` FROM phrase_statistics
		ORDER BY total_occurrences DESC, last_seen DESC, phrase ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query phrase statistics: %w", err)
	}
	defer rows.Close()

	stats := []core.PhraseStatistic{}
	for rows.Next() {
		var s core.PhraseStatistic
		if err := rows.Scan(&s.ID, &s.Phrase, &s.TotalOccurrences, &s.EmailsAffected, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan phrase statistic: %w", err)
		}
		s.FirstSeen, s.LastSeen = s.FirstSeen.UTC(), s.LastSeen.UTC()
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *ledgerRepo) Get(ctx context.Context, phrase string) (*core.PhraseStatistic, error) {
	var s core.PhraseStatistic
	found, err := r.queryRow(ctx, `SELECT `+statisticColumns+` FROM phrase_statistics WHERE phrase = ?`,
		[]any{phrase}, &s.ID, &s.Phrase, &s.TotalOccurrences, &s.EmailsAffected, &s.FirstSeen, &s.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to query phrase %q: %w", phrase, err)
	}
	if !found {
		return nil, nil
	}
	s.FirstSeen, s.LastSeen = s.FirstSeen.UTC(), s.LastSeen.UTC()
	return &s, nil
}

var _ core.PhraseLedger = (*ledgerRepo)(nil)
