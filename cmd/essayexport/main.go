package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/essayexport/internal/export"
	"github.com/pavelanni/essayexport/internal/handler"
	appI18n "github.com/pavelanni/essayexport/internal/i18n"
	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
	"github.com/pavelanni/essayexport/internal/pdf"
	"github.com/pavelanni/essayexport/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "essayexport",
		Short: "Export essay quiz responses as a ZIP archive",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), loadCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `essayexport --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP export server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "essayexport.db", "SQLite database path")
	f.StringP("lang", "l", "en", "UI language (en, de)")
	f.String("admin-user", "teacher", "Username allowed to download responses")
	f.String("admin-password", "", "Password for the download user (or set ESSAYEXPORT_ADMIN_PASSWORD)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a quiz's essay responses to a ZIP file",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "essayexport.db", "SQLite database path")
	f.Int64("quiz", 0, "Quiz id to export (required)")
	f.Int64("group", 0, "Restrict to a group (0 = all participants)")
	f.StringP("output", "o", "", "Output ZIP path (default derived from the quiz)")
	f.StringP("lang", "l", "en", "Language for generated texts (en, de)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	addOptionFlags(f)

	_ = cmd.MarkFlagRequired("quiz")

	return cmd
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [file...]",
		Short: "Mirror quiz data from JSON dumps into the database",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLoad,
	}
	f := cmd.Flags()
	f.String("db", "essayexport.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

// addOptionFlags registers one flag per export setting, named exactly like
// the settings form field so the values can feed options.FromValues.
func addOptionFlags(f *pflag.FlagSet) {
	d := options.Default()
	f.String("groupby", string(d.GroupBy), "Group files by attempt or by question (byattempt, byquestion)")
	f.String("nameordering", string(d.NameOrdering), "Name order in folder names (lastfirst, firstlast)")
	f.String("fileformat", string(d.Format), "Output format (pdf, txt)")
	f.String("source", string(d.Source), "Text source for PDF output (html, plain)")
	f.Bool("questiontext", d.QuestionText, "Include the question text")
	f.Bool("responsetext", d.ResponseText, "Include the response text")
	f.Bool("attachments", d.Attachments, "Include response attachments")
	f.Bool("shortennames", d.ShortenNames, "Shorten names in folder names")
	f.Bool("onlybest", d.OnlyBest, "Export only the graded attempt per user")
	f.Bool("forceqtsummary", d.ForceQTSummary, "Use the plain question summary even for HTML output")
	f.Bool("includestats", d.IncludeStats, "Append word and character counts to responses")
	f.Bool("includefooter", d.IncludeFooter, "Add a page number footer to PDFs")
	f.Bool("fixremfontsize", d.FixRemFontSize, "Convert rem font sizes in responses to percent")
	f.String("page", string(d.Page), "Paper size (a4, letter)")
	f.Int("marginleft", d.MarginLeft, "Left margin in mm")
	f.Int("marginright", d.MarginRight, "Right margin in mm")
	f.Int("margintop", d.MarginTop, "Top margin in mm")
	f.Int("marginbottom", d.MarginBottom, "Bottom margin in mm")
	f.Float64("linespacing", d.LineSpacing, "Line spacing factor")
	f.String("font", string(d.Font), "Font family (serif, sans, mono)")
	f.Int("fontsize", d.FontSize, "Font size in points")
}

// optionValues collects the option flags the user actually set, so unset
// flags fall back through options.FromValues instead of pinning defaults.
func optionValues(f *pflag.FlagSet) url.Values {
	q := url.Values{}
	f.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "groupby", "nameordering", "fileformat", "source",
			"questiontext", "responsetext", "attachments", "shortennames",
			"onlybest", "forceqtsummary", "includestats", "includefooter",
			"fixremfontsize", "page", "marginleft", "marginright",
			"margintop", "marginbottom", "linespacing", "font", "fontsize":
			q.Set(fl.Name, fl.Value.String())
		}
	})
	return q
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ESSAYEXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("essayexport")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/essayexport")
	v.AddConfigPath("/etc/essayexport")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	password := v.GetString("admin-password")
	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ESSAYEXPORT_ADMIN_PASSWORD env var")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	h := handler.New(db, handler.Config{
		AdminUser:     v.GetString("admin-user"),
		AdminPassHash: string(hash),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server", "addr", addr, "lang", lang, "db", v.GetString("db"))
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	quiz, err := db.GetQuiz(ctx, v.GetInt64("quiz"))
	if err != nil {
		return err
	}

	opts := options.FromValues(options.Default(), optionValues(cmd.Flags()))
	if verrs := opts.Validate(); verrs != nil {
		for field, msgID := range verrs {
			slog.Error("invalid setting", "field", field, "problem", appI18n.T(ctx, msgID))
		}
		return verrs
	}
	opts = opts.ResolveDependencies()

	hasEssay, err := db.QuizHasEssayQuestions(ctx, quiz.ID)
	if err != nil {
		return err
	}
	if !hasEssay {
		return fmt.Errorf("%s", appI18n.T(ctx, "NoEssayQuestion"))
	}

	userIDs, err := db.UsersInScope(ctx, model.Scope{GroupID: v.GetInt64("group")})
	if err != nil {
		return err
	}
	policy, _ := export.PolicyForGradingMethod(quiz.GradingMethod)
	attempts, err := export.SelectAttempts(ctx, db, quiz.ID, userIDs, opts, policy)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		slog.Info(appI18n.T(ctx, "NothingToDownload"), "quiz", quiz.ID)
		return nil
	}

	outPath := v.GetString("output")
	if outPath == "" {
		outPath = export.CleanFilename(quiz.CourseName+" - "+quiz.Name+" - "+strconv.FormatInt(quiz.ID, 10)) + ".zip"
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	var renderer export.DocumentRenderer
	if opts.Format == options.FormatPDF {
		renderer = pdf.New(pdf.LayoutFromOptions(opts))
	}

	sink := export.NewZipSink(out, db)
	res, err := export.Assemble(ctx, sink, db, attempts, opts, renderer)
	if err != nil {
		return fmt.Errorf("assemble archive: %w", err)
	}
	if !res.Written {
		out.Close()
		_ = os.Remove(outPath)
		slog.Info(appI18n.T(ctx, "NothingToDownload"), "quiz", quiz.ID)
		return nil
	}
	if err := sink.Finish(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	slog.Info("exported quiz", "quiz", quiz.ID, "attempts", len(attempts), "errors", res.Errors, "output", outPath)
	return nil
}

// quizDump is the JSON shape produced by the host platform's export hook.
type quizDump struct {
	Quiz struct {
		CourseID      int64  `json:"course_id"`
		CourseName    string `json:"course_name"`
		Name          string `json:"name"`
		GradingMethod string `json:"grading_method"`
	} `json:"quiz"`
	Users []struct {
		FirstName string  `json:"firstname"`
		LastName  string  `json:"lastname"`
		Groups    []int64 `json:"groups"`
	} `json:"users"`
	Questions []struct {
		Ref          string `json:"ref"`
		Type         string `json:"type"`
		Name         string `json:"name"`
		QuestionHTML string `json:"questiontext"`
	} `json:"questions"`
	Slots []struct {
		Slot        int    `json:"slot"`
		QuestionRef string `json:"question"`
	} `json:"slots"`
	Attempts []struct {
		User       int     `json:"user"`
		State      string  `json:"state"`
		Preview    bool    `json:"preview"`
		TimeFinish int64   `json:"timefinish"`
		SumGrades  float64 `json:"sumgrades"`
		Responses  []struct {
			Slot            int    `json:"slot"`
			QuestionRef     string `json:"question"`
			Number          int    `json:"number"`
			QuestionSummary string `json:"questionsummary"`
			ResponseSummary string `json:"responsesummary"`
			ResponseHTML    string `json:"responsehtml"`
			Attachments     []struct {
				Filename string `json:"filename"`
				Content  []byte `json:"content"`
			} `json:"attachments"`
		} `json:"responses"`
	} `json:"attempts"`
}

func runLoad(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var dump quizDump
		if err := json.Unmarshal(data, &dump); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		quizID, err := loadDump(ctx, db, dump)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		slog.Info("loaded quiz dump", "path", path, "quiz", quizID,
			"attempts", len(dump.Attempts), "sha256", sha256sum(data))
	}

	return nil
}

func loadDump(ctx context.Context, db *store.Store, dump quizDump) (int64, error) {
	quizID, err := db.CreateQuiz(ctx, model.Quiz{
		CourseID:      dump.Quiz.CourseID,
		CourseName:    dump.Quiz.CourseName,
		Name:          dump.Quiz.Name,
		GradingMethod: model.GradingMethod(dump.Quiz.GradingMethod),
	})
	if err != nil {
		return 0, err
	}

	userIDs := make([]int64, len(dump.Users))
	for i, u := range dump.Users {
		id, err := db.CreateUser(ctx, u.FirstName, u.LastName)
		if err != nil {
			return 0, err
		}
		for _, g := range u.Groups {
			if err := db.AddGroupMember(ctx, g, id); err != nil {
				return 0, err
			}
		}
		userIDs[i] = id
	}

	questionIDs := make(map[string]int64, len(dump.Questions))
	for _, q := range dump.Questions {
		id, err := db.CreateQuestion(ctx, q.Type, q.Name, q.QuestionHTML)
		if err != nil {
			return 0, err
		}
		questionIDs[q.Ref] = id
	}

	for _, s := range dump.Slots {
		qid, ok := questionIDs[s.QuestionRef]
		if !ok {
			return 0, fmt.Errorf("slot %d references unknown question %q", s.Slot, s.QuestionRef)
		}
		if err := db.AddSlot(ctx, quizID, s.Slot, qid); err != nil {
			return 0, err
		}
	}

	for _, a := range dump.Attempts {
		if a.User < 1 || a.User > len(userIDs) {
			return 0, fmt.Errorf("attempt references unknown user %d", a.User)
		}
		state := a.State
		if state == "" {
			state = "finished"
		}
		attemptID, err := db.CreateAttempt(ctx, quizID, userIDs[a.User-1],
			state, a.Preview, time.Unix(a.TimeFinish, 0).UTC(), a.SumGrades)
		if err != nil {
			return 0, err
		}
		for _, r := range a.Responses {
			qid, ok := questionIDs[r.QuestionRef]
			if !ok {
				return 0, fmt.Errorf("response references unknown question %q", r.QuestionRef)
			}
			if err := db.SaveResponse(ctx, attemptID, r.Slot, r.Number, qid,
				r.QuestionSummary, r.ResponseSummary, r.ResponseHTML); err != nil {
				return 0, err
			}
			for _, att := range r.Attachments {
				if err := db.AttachFile(ctx, attemptID, r.Slot, att.Filename, att.Content); err != nil {
					return 0, err
				}
			}
		}
	}

	return quizID, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
