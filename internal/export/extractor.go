package export

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pavelanni/essayexport/internal/i18n"
	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
)

// AttemptStore provides the per-slot state of one attempt. Implemented by
// the sqlite store.
type AttemptStore interface {
	SlotsForAttempt(ctx context.Context, attemptID int64) ([]model.SlotResponse, error)
}

// QuestionEntry pairs a filesystem-safe folder label with the normalized
// question detail. Entries keep slot order; labels are not deduplicated
// (two essay questions with the same title differ by their ordinal).
type QuestionEntry struct {
	Label  string
	Detail model.QuestionDetail
}

// ExtractDetails walks the attempt's slots in slot order and returns one
// entry per essay question. A slot configured with a random question is
// judged by the type it resolved to when the attempt was made. A missing
// attempt is fatal; an attempt without essay slots yields an empty slice.
func ExtractDetails(ctx context.Context, store AttemptStore, attemptID int64, opts options.Options) ([]QuestionEntry, error) {
	slots, err := store.SlotsForAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("extract attempt %d: %w", attemptID, err)
	}

	prefix := "Question_"
	if opts.ShortenNames {
		prefix = "Q_"
	}

	var entries []QuestionEntry
	for _, slot := range slots {
		if slot.ResolvedType != "essay" {
			continue
		}

		label := CleanFilename(fmt.Sprintf("%s%d_-_%s", prefix, slot.Number, slot.Name))

		questionText := slot.QuestionSummary
		responseText := slot.ResponseSummary
		if len(slot.Attachments) > 0 {
			responseText = appendAttachmentSummary(responseText, slot.Attachments)
		}

		if opts.Source == options.SourceHTML {
			if !opts.ForceQTSummary {
				questionText = slot.QuestionHTML
			}
			responseText = slot.ResponseHTML
		}

		if opts.IncludeStats {
			responseText = appendStatistics(ctx, responseText, opts.Source)
		}

		entries = append(entries, QuestionEntry{
			Label: label,
			Detail: model.QuestionDetail{
				QuestionText: questionText,
				ResponseText: responseText,
				Attachments:  slot.Attachments,
			},
		})
	}
	return entries, nil
}

// appendAttachmentSummary adds the attachment annotation the summary form
// carries, e.g. "Attachments: notes.txt (12 bytes)". The non-breaking
// space between size and unit matches what the host's question engine
// produces.
func appendAttachmentSummary(summary string, atts []model.Attachment) string {
	names := make([]string, len(atts))
	for i, a := range atts {
		names[i] = fmt.Sprintf("%s (%d bytes)", a.Filename, a.Size)
	}
	annotation := "Attachments: " + strings.Join(names, ", ")
	if summary == "" {
		return annotation
	}
	return summary + "\n\n" + annotation
}

// appendStatistics adds a word and character count after the response. The
// counts are taken on the plain text, so HTML markup does not inflate them.
func appendStatistics(ctx context.Context, text string, source options.TextSource) string {
	plain := text
	if source == options.SourceHTML {
		plain = stripTags(text)
	}
	stats := i18n.Td(ctx, "Statistics", map[string]any{
		"Words": len(strings.Fields(plain)),
		"Chars": len([]rune(strings.TrimSpace(plain))),
	})
	if source == options.SourceHTML {
		return text + "<p>" + stats + "</p>"
	}
	return text + "\n\n" + stats
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tagRe.ReplaceAllString(s, " ")
}
