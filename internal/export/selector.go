// Package export implements the archive-assembly pipeline: selecting the
// attempts visible to the requesting teacher, extracting essay responses
// per attempt, and streaming everything into a ZIP archive with per-item
// error isolation.
package export

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
)

// AttemptSource lists the finished attempts of a quiz. Implemented by the
// sqlite store; an empty userIDs slice means no restriction.
type AttemptSource interface {
	FinishedAttempts(ctx context.Context, quizID int64, userIDs []int64) ([]model.AttemptRecord, error)
}

// BestAttemptPolicy decides which of two attempts by the same submitter is
// the one that counts. The grading-method semantics are owned by the host
// platform; this package only applies whatever comparator it is handed.
type BestAttemptPolicy func(best, candidate model.AttemptRecord) model.AttemptRecord

// BestByGrade keeps the attempt with the higher grade sum; the earlier
// attempt wins ties.
func BestByGrade(best, candidate model.AttemptRecord) model.AttemptRecord {
	if candidate.SumGrades > best.SumGrades {
		return candidate
	}
	return best
}

// BestFirst keeps the first finished attempt.
func BestFirst(best, _ model.AttemptRecord) model.AttemptRecord {
	return best
}

// BestLast keeps the most recent finished attempt.
func BestLast(_, candidate model.AttemptRecord) model.AttemptRecord {
	return candidate
}

// PolicyForGradingMethod maps a quiz's grading method to the matching
// policy. Average grading has no single attempt that counts, so the
// only-best filter is unavailable for such quizzes.
func PolicyForGradingMethod(m model.GradingMethod) (BestAttemptPolicy, bool) {
	switch m {
	case model.GradeHighest:
		return BestByGrade, true
	case model.AttemptFirst:
		return BestFirst, true
	case model.AttemptLast:
		return BestLast, true
	}
	return nil, false
}

// nameLimit bounds each name component when shortened names are requested,
// to keep full archive paths below the limits of constrained targets.
const nameLimit = 40

// SelectAttempts returns the finished, non-preview attempts of the quiz
// that belong to the given users, ordered by attempt id, each with its
// derived archive path fragment. An empty userIDs slice (no group selected,
// or an empty group) matches every submitter rather than none. When the
// only-best option is set and a policy is available, the result is reduced
// to at most one attempt per submitter.
func SelectAttempts(ctx context.Context, src AttemptSource, quizID int64, userIDs []int64, opts options.Options, policy BestAttemptPolicy) ([]model.AttemptRecord, error) {
	attempts, err := src.FinishedAttempts(ctx, quizID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("select attempts for quiz %d: %w", quizID, err)
	}

	if opts.OnlyBest && policy != nil {
		best := make(map[int64]model.AttemptRecord)
		for _, a := range attempts {
			if prev, ok := best[a.UserID]; ok {
				best[a.UserID] = policy(prev, a)
			} else {
				best[a.UserID] = a
			}
		}
		attempts = attempts[:0]
		for _, a := range best {
			attempts = append(attempts, a)
		}
		sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	}

	for i := range attempts {
		attempts[i].Path = AttemptPath(attempts[i], opts)
	}
	return attempts, nil
}

// AttemptPath derives the unique, filesystem-safe folder name for one
// attempt: the submitter's name in the configured order, the attempt id and
// the finish time. The attempt id keeps paths distinct even when two
// submitters share name and finish time.
func AttemptPath(a model.AttemptRecord, opts options.Options) string {
	first, last := a.FirstName, a.LastName
	if opts.ShortenNames {
		first = truncate(first, nameLimit)
		last = truncate(last, nameLimit)
	}

	var name string
	if opts.NameOrdering == options.FirstLast {
		name = first + "_" + last
	} else {
		name = last + "_" + first
	}

	path := fmt.Sprintf("%s_%d_%s", name, a.ID, a.TimeFinish.UTC().Format("20060102_150405"))
	return CleanFilename(path)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// CleanFilename makes a string safe to use as a file or directory name:
// spaces become underscores and characters that are unsafe on common
// filesystems are stripped.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '~', '#', '%', '&', '{', '}':
			return -1
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}
