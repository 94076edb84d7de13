// Package handler exposes the export over HTTP: a settings page and a
// download endpoint that streams the assembled ZIP archive.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/essayexport/internal/export"
	appI18n "github.com/pavelanni/essayexport/internal/i18n"
	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
	"github.com/pavelanni/essayexport/internal/pdf"
	"github.com/pavelanni/essayexport/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	config Config
}

// Config carries the handler settings.
type Config struct {
	AdminUser     string
	AdminPassHash string // bcrypt
}

// New creates a new Handler.
func New(s *store.Store, cfg Config) *Handler {
	return &Handler{store: s, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/quiz/{quizID}", h.handleSettings)
		r.Post("/quiz/{quizID}/download", h.handleDownload)
	})
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	quiz, ok := h.loadQuiz(w, r)
	if !ok {
		return
	}

	user, _, _ := r.BasicAuth()
	opts, err := options.FromPreferences(ctx, h.store.PrefsFor(user))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	opts = options.FromValues(opts, r.URL.Query()).ResolveDependencies()

	hasEssay, err := h.store.QuizHasEssayQuestions(ctx, quiz.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !hasEssay {
		h.renderNotice(w, r, quiz, appI18n.T(ctx, "NoEssayQuestion"))
		return
	}

	attempts, err := h.selectAttempts(r, quiz, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(attempts) == 0 {
		h.renderNotice(w, r, quiz, appI18n.T(ctx, "NothingToDownload"))
		return
	}

	h.renderForm(w, r, quiz, opts, nil, http.StatusOK)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	quiz, ok := h.loadQuiz(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, _, _ := r.BasicAuth()
	prefs := h.store.PrefsFor(user)
	prior, err := options.FromPreferences(ctx, prefs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	opts := options.FromForm(prior, r.PostForm)

	// Validation blocks the download; the form is shown again with the
	// offending fields marked.
	if verrs := opts.Validate(); verrs != nil {
		translated := make(map[string]string, len(verrs))
		for field, msgID := range verrs {
			translated[field] = appI18n.T(ctx, msgID)
		}
		h.renderForm(w, r, quiz, opts, translated, http.StatusUnprocessableEntity)
		return
	}
	opts = opts.ResolveDependencies()

	_, canFilterBest := export.PolicyForGradingMethod(quiz.GradingMethod)
	if err := options.Persist(ctx, prefs, opts, canFilterBest); err != nil {
		slog.Warn("failed to store preferences", "user", user, "error", err)
	}

	attempts, err := h.selectAttempts(r, quiz, opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(attempts) == 0 {
		h.renderNotice(w, r, quiz, appI18n.T(ctx, "NothingToDownload"))
		return
	}

	var renderer export.DocumentRenderer
	if opts.Format == options.FormatPDF {
		renderer = pdf.New(pdf.LayoutFromOptions(opts))
	}

	// Headers go out with the first archive byte, so an export that turns
	// out to contain nothing can still fall back to a notice page.
	aw := &archiveWriter{rw: w, filename: archiveFilename(quiz, opts)}
	sink := export.NewZipSink(aw, h.store)

	res, err := export.Assemble(ctx, sink, h.store, attempts, opts, renderer)
	if err != nil {
		if aw.started {
			// The stream is already under way; all we can do is log and cut it off.
			slog.Error("export aborted mid-stream", "quiz", quiz.ID, "error", err)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !res.Written {
		h.renderNotice(w, r, quiz, appI18n.T(ctx, "NothingToDownload"))
		return
	}

	if err := sink.Finish(); err != nil {
		slog.Error("failed to finish archive", "quiz", quiz.ID, "error", err)
		return
	}
	if res.Errors > 0 {
		slog.Warn("export finished with item errors", "quiz", quiz.ID, "errors", res.Errors)
	}
}

func (h *Handler) loadQuiz(w http.ResponseWriter, r *http.Request) (model.Quiz, bool) {
	quizID, err := strconv.ParseInt(chi.URLParam(r, "quizID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid quiz id", http.StatusBadRequest)
		return model.Quiz{}, false
	}
	quiz, err := h.store.GetQuiz(r.Context(), quizID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return model.Quiz{}, false
	}
	return quiz, true
}

// selectAttempts resolves the group scope from the request and runs the
// attempt selector.
func (h *Handler) selectAttempts(r *http.Request, quiz model.Quiz, opts options.Options) ([]model.AttemptRecord, error) {
	groupID, _ := strconv.ParseInt(r.FormValue("group"), 10, 64)
	userIDs, err := h.store.UsersInScope(r.Context(), model.Scope{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	policy, _ := export.PolicyForGradingMethod(quiz.GradingMethod)
	return export.SelectAttempts(r.Context(), h.store, quiz.ID, userIDs, opts, policy)
}

// archiveFilename builds the download name: course, quiz and quiz id, so
// the name stays unique even when two quizzes share a title.
func archiveFilename(quiz model.Quiz, opts options.Options) string {
	name := quiz.Name
	if opts.ShortenNames {
		runes := []rune(name)
		if len(runes) > 15 {
			name = string(runes[:15])
		}
	}
	return export.CleanFilename(quiz.CourseName+" - "+name+" - "+strconv.FormatInt(quiz.ID, 10)) + ".zip"
}

// archiveWriter defers the download headers until the first byte of the
// archive is written.
type archiveWriter struct {
	rw       http.ResponseWriter
	filename string
	started  bool
}

func (w *archiveWriter) Write(p []byte) (int, error) {
	if !w.started {
		w.rw.Header().Set("Content-Type", "application/zip")
		w.rw.Header().Set("Content-Disposition", `attachment; filename="`+w.filename+`"`)
		w.started = true
	}
	return w.rw.Write(p)
}
