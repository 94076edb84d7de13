// Package store is the sqlite-backed implementation of the narrow
// collaborator interfaces the export pipeline consumes: quiz structure,
// finished attempts, per-slot responses, uploaded files and user
// preferences.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/essayexport/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS quizzes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		course_id INTEGER NOT NULL DEFAULT 1,
		course_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		grading_method TEXT NOT NULL DEFAULT 'highest'
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		qtype TEXT NOT NULL,
		name TEXT NOT NULL,
		question_html TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS quiz_slots (
		quiz_id INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		PRIMARY KEY (quiz_id, slot),
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		quiz_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'inprogress',
		preview INTEGER NOT NULL DEFAULT 0,
		time_finish DATETIME,
		sum_grades REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (quiz_id) REFERENCES quizzes(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS attempt_responses (
		attempt_id INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		question_summary TEXT NOT NULL DEFAULT '',
		response_summary TEXT NOT NULL DEFAULT '',
		response_html TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (attempt_id, slot),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS attempt_files (
		attempt_id INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		filename TEXT NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (hash) REFERENCES files(hash)
	);

	CREATE TABLE IF NOT EXISTS files (
		hash TEXT PRIMARY KEY,
		content BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		username TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (username, name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetQuiz loads the quiz header. A missing quiz is a fatal precondition for
// any export.
func (s *Store) GetQuiz(ctx context.Context, id int64) (model.Quiz, error) {
	var q model.Quiz
	err := s.db.QueryRowContext(ctx,
		`SELECT id, course_id, course_name, name, grading_method FROM quizzes WHERE id = ?`,
		id,
	).Scan(&q.ID, &q.CourseID, &q.CourseName, &q.Name, &q.GradingMethod)
	if err == sql.ErrNoRows {
		return model.Quiz{}, fmt.Errorf("quiz %d not found", id)
	}
	if err != nil {
		return model.Quiz{}, fmt.Errorf("load quiz %d: %w", id, err)
	}
	return q, nil
}

// QuizHasEssayQuestions reports whether the quiz can produce essay
// responses at all. Random slots count: they may resolve to an essay
// question in at least some attempts.
func (s *Store) QuizHasEssayQuestions(ctx context.Context, quizID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		   FROM quiz_slots sl
		   JOIN questions q ON q.id = sl.question_id
		  WHERE sl.quiz_id = ? AND q.qtype IN ('essay', 'random')`,
		quizID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count essay questions: %w", err)
	}
	return n > 0, nil
}

// UsersInScope resolves a visibility scope to the user ids it covers. The
// whole-course scope returns nil, meaning no restriction.
func (s *Store) UsersInScope(ctx context.Context, scope model.Scope) ([]int64, error) {
	if scope.Entire() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`,
		scope.GroupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FinishedAttempts returns the finished, non-preview attempts for a quiz,
// ordered by attempt id. An empty userIDs slice means no restriction.
func (s *Store) FinishedAttempts(ctx context.Context, quizID int64, userIDs []int64) ([]model.AttemptRecord, error) {
	query := `SELECT a.id, a.user_id, u.first_name, u.last_name, a.time_finish, a.sum_grades
	            FROM attempts a
	            JOIN users u ON u.id = a.user_id
	           WHERE a.quiz_id = ? AND a.state = 'finished' AND a.preview = 0`
	args := []any{quizID}
	if len(userIDs) > 0 {
		query += ` AND a.user_id IN (?` // at least one placeholder
		for range userIDs[1:] {
			query += `, ?`
		}
		query += `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY a.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.AttemptRecord
	for rows.Next() {
		var a model.AttemptRecord
		var finish time.Time
		if err := rows.Scan(&a.ID, &a.UserID, &a.FirstName, &a.LastName, &finish, &a.SumGrades); err != nil {
			return nil, err
		}
		a.TimeFinish = finish
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// SlotsForAttempt returns the attempt's slots in slot order, with the
// resolved question type, name and display number, both text variants and
// the attached files. A missing attempt is an error; an attempt without
// responses yields an empty slice.
func (s *Store) SlotsForAttempt(ctx context.Context, attemptID int64) ([]model.SlotResponse, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE id = ?`, attemptID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check attempt %d: %w", attemptID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("attempt %d not found", attemptID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.slot, r.number, q.qtype, q.name, r.question_summary, q.question_html,
		        r.response_summary, r.response_html
		   FROM attempt_responses r
		   JOIN questions q ON q.id = r.question_id
		  WHERE r.attempt_id = ?
		  ORDER BY r.slot`,
		attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("load slots for attempt %d: %w", attemptID, err)
	}
	defer rows.Close()

	var slots []model.SlotResponse
	for rows.Next() {
		var sr model.SlotResponse
		if err := rows.Scan(&sr.Slot, &sr.Number, &sr.ResolvedType, &sr.Name,
			&sr.QuestionSummary, &sr.QuestionHTML, &sr.ResponseSummary, &sr.ResponseHTML); err != nil {
			return nil, err
		}
		slots = append(slots, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range slots {
		atts, err := s.filesForSlot(ctx, attemptID, slots[i].Slot)
		if err != nil {
			return nil, err
		}
		slots[i].Attachments = atts
	}
	return slots, nil
}

func (s *Store) filesForSlot(ctx context.Context, attemptID int64, slot int) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, hash, size FROM attempt_files
		  WHERE attempt_id = ? AND slot = ? ORDER BY rowid`,
		attemptID, slot,
	)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.Filename, &a.Hash, &a.Size); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
