package model

import "time"

// GradingMethod tells which attempt counts when a quiz allows several.
type GradingMethod string

const (
	// GradeHighest keeps the attempt with the best grade.
	GradeHighest GradingMethod = "highest"
	// GradeAverage averages all attempts; no single attempt is "the" graded one.
	GradeAverage GradingMethod = "average"
	// AttemptFirst keeps the first finished attempt.
	AttemptFirst GradingMethod = "first"
	// AttemptLast keeps the most recent finished attempt.
	AttemptLast GradingMethod = "last"
)

// Quiz is the quiz being exported, with just enough surrounding course data
// to build the archive name.
type Quiz struct {
	ID            int64
	CourseID      int64
	CourseName    string // short name of the course
	Name          string
	GradingMethod GradingMethod
}

// Scope restricts an export to the members of one group. The zero value
// means the whole course.
type Scope struct {
	GroupID int64
}

// Entire reports whether the scope covers all course participants.
func (s Scope) Entire() bool { return s.GroupID == 0 }

// AttemptRecord is one finished, non-preview quiz attempt together with the
// derived archive path fragment. Records are immutable for the duration of
// one export.
type AttemptRecord struct {
	ID         int64
	UserID     int64
	FirstName  string
	LastName   string
	TimeFinish time.Time
	SumGrades  float64

	// Path is the filesystem-safe folder name for this attempt, filled in
	// by the attempt selector. It embeds the attempt id, so it is unique
	// even when two submitters share name and finish time.
	Path string
}

// Attachment is one file uploaded with an essay response. Content is
// addressed by the SHA-256 of the bytes; identical bytes in different
// attempts share a hash but not ownership.
type Attachment struct {
	Filename string
	Hash     string
	Size     int64
}

// SlotResponse is the raw per-slot record for one attempt, as returned by
// the attempt store. ResolvedType is the question type as actually answered:
// a slot configured with a random question carries the type of the concrete
// question it resolved to at attempt time.
type SlotResponse struct {
	Slot            int
	Number          int // 1-based display position within the attempt
	ResolvedType    string
	Name            string
	QuestionSummary string
	QuestionHTML    string
	ResponseSummary string
	ResponseHTML    string
	Attachments     []Attachment
}

// QuestionDetail is the normalized record for one essay question within one
// attempt, ready to be written into the archive.
type QuestionDetail struct {
	QuestionText string
	ResponseText string
	Attachments  []Attachment
}
