package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveClassificationRecord inserts a new classification record. Feedback
// fields start out NULL.
func (s *Store) SaveClassificationRecord(r ClassificationRecord) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var wasCorrect interface{}
	if r.WasCorrect != nil {
		wasCorrect = boolToInt(*r.WasCorrect)
	}
	_, err := s.db.Exec(`
		INSERT INTO classification_records
			(id, created_at, message, normalized, classified_intent, confidence, source, was_correct, corrected_intent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, createdAt.UTC().Format(time.RFC3339), r.Message, r.Normalized,
		r.Intent, r.Confidence, r.Source, wasCorrect, nullIfEmpty(r.CorrectedIntent),
	)
	return err
}

func (s *Store) GetClassificationRecord(id string) (ClassificationRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, message, normalized, classified_intent, confidence, source, was_correct, corrected_intent
		FROM classification_records WHERE id = ?`, id)
	return scanClassificationRecord(row)
}

func (s *Store) ListClassificationRecords(limit, offset int) ([]ClassificationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, message, normalized, classified_intent, confidence, source, was_correct, corrected_intent
		FROM classification_records ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ClassificationRecord
	for rows.Next() {
		r, err := scanClassificationRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ApplyClassificationFeedback sets the feedback fields on a record. A record
// receives feedback at most once; later calls overwrite (last feedback wins).
func (s *Store) ApplyClassificationFeedback(id string, wasCorrect bool, correctedIntent string) error {
	res, err := s.db.Exec(`
		UPDATE classification_records SET was_correct = ?, corrected_intent = ? WHERE id = ?`,
		boolToInt(wasCorrect), nullIfEmpty(correctedIntent), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PatternAggregates tallies feedback per (normalized message, intent). A
// confirmed classification counts as a success for its intent; a corrected
// one counts as a success for the corrected intent and a failure for the
// originally classified intent.
func (s *Store) PatternAggregates() ([]PatternAggregate, error) {
	rows, err := s.db.Query(`
		SELECT normalized, intent, SUM(success), SUM(failure) FROM (
			SELECT normalized, classified_intent AS intent, 1 AS success, 0 AS failure
			FROM classification_records WHERE was_correct = 1
			UNION ALL
			SELECT normalized, corrected_intent, 1, 0
			FROM classification_records WHERE corrected_intent IS NOT NULL AND corrected_intent != ''
			UNION ALL
			SELECT normalized, classified_intent, 0, 1
			FROM classification_records WHERE was_correct = 0
		)
		GROUP BY normalized, intent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PatternAggregate
	for rows.Next() {
		var a PatternAggregate
		if err := rows.Scan(&a.Normalized, &a.Intent, &a.Successes, &a.Failures); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClassificationRecord(row rowScanner) (ClassificationRecord, error) {
	var r ClassificationRecord
	var createdAt string
	var wasCorrect sql.NullInt64
	var corrected sql.NullString
	err := row.Scan(&r.ID, &createdAt, &r.Message, &r.Normalized, &r.Intent,
		&r.Confidence, &r.Source, &wasCorrect, &corrected)
	if err == sql.ErrNoRows {
		return ClassificationRecord{}, ErrNotFound
	}
	if err != nil {
		return ClassificationRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return ClassificationRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	if wasCorrect.Valid {
		v := wasCorrect.Int64 != 0
		r.WasCorrect = &v
	}
	r.CorrectedIntent = corrected.String
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
