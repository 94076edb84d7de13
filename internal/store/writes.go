package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/essayexport/internal/model"
)

// Write methods used when mirroring data in from the host platform, and by
// the test fixtures.

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, firstName, lastName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (first_name, last_name) VALUES (?, ?)`,
		firstName, lastName,
	)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// AddGroupMember puts a user into a group.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		 ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	return err
}

// CreateQuiz inserts a quiz and returns its id.
func (s *Store) CreateQuiz(ctx context.Context, q model.Quiz) (int64, error) {
	if q.GradingMethod == "" {
		q.GradingMethod = model.GradeHighest
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quizzes (course_id, course_name, name, grading_method) VALUES (?, ?, ?, ?)`,
		q.CourseID, q.CourseName, q.Name, q.GradingMethod,
	)
	if err != nil {
		return 0, fmt.Errorf("insert quiz: %w", err)
	}
	return res.LastInsertId()
}

// CreateQuestion inserts a question definition and returns its id.
func (s *Store) CreateQuestion(ctx context.Context, qtype, name, questionHTML string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (qtype, name, question_html) VALUES (?, ?, ?)`,
		qtype, name, questionHTML,
	)
	if err != nil {
		return 0, fmt.Errorf("insert question: %w", err)
	}
	return res.LastInsertId()
}

// AddSlot appends a question to a quiz at the given slot.
func (s *Store) AddSlot(ctx context.Context, quizID int64, slot int, questionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_slots (quiz_id, slot, question_id) VALUES (?, ?, ?)`,
		quizID, slot, questionID,
	)
	return err
}

// CreateAttempt inserts an attempt row and returns its id.
func (s *Store) CreateAttempt(ctx context.Context, quizID, userID int64, state string, preview bool, finish time.Time, sumGrades float64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (quiz_id, user_id, state, preview, time_finish, sum_grades)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		quizID, userID, state, preview, finish, sumGrades,
	)
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	return res.LastInsertId()
}

// SaveResponse records the per-slot state of an attempt: the concrete
// question the slot resolved to, its display number and the response in
// both summary and HTML form.
func (s *Store) SaveResponse(ctx context.Context, attemptID int64, slot, number int, questionID int64, questionSummary, responseSummary, responseHTML string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempt_responses
		   (attempt_id, slot, question_id, number, question_summary, response_summary, response_html)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attemptID, slot, questionID, number, questionSummary, responseSummary, responseHTML,
	)
	return err
}

// AttachFile stores content in the file table and links it to a slot of an
// attempt under the given filename.
func (s *Store) AttachFile(ctx context.Context, attemptID int64, slot int, filename string, content []byte) error {
	hash, err := s.PutFile(ctx, content)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempt_files (attempt_id, slot, filename, hash, size) VALUES (?, ?, ?, ?, ?)`,
		attemptID, slot, filename, hash, len(content),
	)
	return err
}
