package export

import (
	"context"
	"fmt"

	"github.com/pavelanni/essayexport/internal/i18n"
	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
)

// DocumentRenderer typesets one block of text into a paginated document.
// nil when the export uses plain-text output.
type DocumentRenderer interface {
	Render(ctx context.Context, text, title, subtitle, author string) ([]byte, error)
}

// Result reports what Assemble wrote. Written is true once any entry went
// into the archive, error entries included: a partially failed export still
// delivers an archive with a visible trail of what failed. A run that never
// wrote anything must be reported to the user as nothing-to-export instead
// of delivering an empty file.
type Result struct {
	Written bool
	Errors  int
}

// Assemble iterates attempts in selector order and questions in slot
// order, writing each requested artifact into the sink. A failure while
// producing the items of one (attempt, question) pair is recorded as a
// counted sidecar entry and the iteration continues; only a broken attempt
// handle aborts the whole export.
func Assemble(ctx context.Context, sink Sink, store AttemptStore, attempts []model.AttemptRecord, opts options.Options, renderer DocumentRenderer) (Result, error) {
	var res Result

	for _, attempt := range attempts {
		entries, err := ExtractDetails(ctx, store, attempt.ID, opts)
		if err != nil {
			return res, err
		}

		for _, entry := range entries {
			var base string
			if opts.GroupBy == options.ByAttempt {
				base = attempt.Path + "/" + entry.Label
			} else {
				base = entry.Label + "/" + attempt.Path
			}

			if err := writeItem(ctx, sink, base, attempt, entry, opts, renderer, &res); err != nil {
				res.Errors++
				res.Written = true
				message := i18n.T(ctx, "ErrorMessage") + "\n\n" + err.Error()
				name := i18n.Td(ctx, "ErrorFilename", map[string]any{"Count": res.Errors})
				if werr := sink.AddFromBytes(name, []byte(message)); werr != nil {
					// The sink itself is broken; carrying on cannot produce
					// a usable archive.
					return res, fmt.Errorf("write error entry: %w", werr)
				}
			}
		}
	}
	return res, nil
}

// writeItem produces every artifact for one (attempt, question) pair. Any
// error or panic is turned into a single per-item failure for the caller to
// record.
func writeItem(ctx context.Context, sink Sink, base string, attempt model.AttemptRecord, entry QuestionEntry, opts options.Options, renderer DocumentRenderer, res *Result) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v", base, r)
		}
	}()

	author := attempt.FirstName + " " + attempt.LastName

	writeText := func(name, text string) error {
		if opts.Format == options.FormatPDF {
			data, rerr := renderer.Render(ctx, text, entry.Label, attempt.Path, author)
			if rerr != nil {
				return fmt.Errorf("render %s/%s.pdf: %w", base, name, rerr)
			}
			if werr := sink.AddFromBytes(base+"/"+name+".pdf", data); werr != nil {
				return werr
			}
		} else {
			if werr := sink.AddFromBytes(base+"/"+name+".txt", []byte(text)); werr != nil {
				return werr
			}
		}
		res.Written = true
		return nil
	}

	if opts.QuestionText {
		if err := writeText("questiontext", entry.Detail.QuestionText); err != nil {
			return err
		}
	}
	if opts.ResponseText {
		if err := writeText("response", entry.Detail.ResponseText); err != nil {
			return err
		}
	}

	if opts.Attachments && len(entry.Detail.Attachments) > 0 {
		for _, att := range entry.Detail.Attachments {
			if err := sink.AddFromFile(ctx, base+"/attachments/"+att.Filename, att); err != nil {
				return err
			}
			res.Written = true
		}
	}
	return nil
}
