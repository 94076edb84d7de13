package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	appI18n "github.com/pavelanni/essayexport/internal/i18n"
	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
)

// The settings page is deliberately plain HTML. The PDF layout block is
// shown for every format; plain-text output simply ignores it after
// ResolveDependencies.
var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<h2>{{.QuizName}}</h2>
{{if .Notice}}
<p>{{.Notice}}</p>
{{else}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="group" value="{{.Group}}">
<fieldset>
<legend>{{.GeneralLegend}}</legend>
<label>groupby
<select name="groupby">
{{range .GroupModes}}<option value="{{.}}"{{if eq . $.Opts.GroupBy}} selected{{end}}>{{.}}</option>{{end}}
</select></label>
<label>nameordering
<select name="nameordering">
{{range .NameOrders}}<option value="{{.}}"{{if eq . $.Opts.NameOrdering}} selected{{end}}>{{.}}</option>{{end}}
</select></label>
<label>fileformat
<select name="fileformat">
{{range .Formats}}<option value="{{.}}"{{if eq . $.Opts.Format}} selected{{end}}>{{.}}</option>{{end}}
</select></label>
<label><input type="checkbox" name="questiontext" value="1"{{if .Opts.QuestionText}} checked{{end}}> questiontext</label>
<label><input type="checkbox" name="responsetext" value="1"{{if .Opts.ResponseText}} checked{{end}}> responsetext</label>
<label><input type="checkbox" name="attachments" value="1"{{if .Opts.Attachments}} checked{{end}}> attachments</label>
<label><input type="checkbox" name="shortennames" value="1"{{if .Opts.ShortenNames}} checked{{end}}> shortennames</label>
<label><input type="checkbox" name="onlybest" value="1"{{if .Opts.OnlyBest}} checked{{end}}> onlybest</label>
<label><input type="checkbox" name="includestats" value="1"{{if .Opts.IncludeStats}} checked{{end}}> includestats</label>
</fieldset>
<fieldset>
<legend>{{.PdfLegend}}</legend>
<label>source
<select name="source">
{{range .Sources}}<option value="{{.}}"{{if eq . $.Opts.Source}} selected{{end}}>{{.}}</option>{{end}}
</select></label>
<label><input type="checkbox" name="forceqtsummary" value="1"{{if .Opts.ForceQTSummary}} checked{{end}}> forceqtsummary</label>
<label><input type="checkbox" name="includefooter" value="1"{{if .Opts.IncludeFooter}} checked{{end}}> includefooter</label>
<label><input type="checkbox" name="fixremfontsize" value="1"{{if .Opts.FixRemFontSize}} checked{{end}}> fixremfontsize</label>
<label>page
<select name="page">
{{range .Pages}}<option value="{{.}}"{{if eq . $.Opts.Page}} selected{{end}}>{{.}}</option>{{end}}
</select></label>
{{with .Errors.margingroup}}<p class="error">{{.}}</p>{{end}}
<label>marginleft <input type="number" name="marginleft" value="{{.Opts.MarginLeft}}"></label>
<label>marginright <input type="number" name="marginright" value="{{.Opts.MarginRight}}"></label>
<label>margintop <input type="number" name="margintop" value="{{.Opts.MarginTop}}"></label>
<label>marginbottom <input type="number" name="marginbottom" value="{{.Opts.MarginBottom}}"></label>
<label>linespacing <input type="text" name="linespacing" value="{{.LineSpacing}}"></label>
<label>font
<select name="font">
{{range .Fonts}}<option value="{{.}}"{{if eq . $.Opts.Font}} selected{{end}}>{{.}}</option>{{end}}
</select></label>
{{with .Errors.fontsize}}<p class="error">{{.}}</p>{{end}}
<label>fontsize <input type="number" name="fontsize" value="{{.Opts.FontSize}}"></label>
</fieldset>
<button type="submit">{{.Download}}</button>
</form>
{{end}}
</body>
</html>
`))

type pageData struct {
	Title         string
	QuizName      string
	Action        string
	Group         string
	Notice        string
	Opts          options.Options
	LineSpacing   string
	Errors        map[string]string
	GeneralLegend string
	PdfLegend     string
	Download      string

	GroupModes []options.GroupMode
	NameOrders []options.NameOrder
	Formats    []options.FileFormat
	Sources    []options.TextSource
	Pages      []options.PageFormat
	Fonts      []options.FontFamily
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, quiz model.Quiz, opts options.Options, errs map[string]string, status int) {
	ctx := r.Context()
	data := pageData{
		Title:         appI18n.T(ctx, "AppTitle"),
		QuizName:      quiz.Name,
		Action:        "/quiz/" + strconv.FormatInt(quiz.ID, 10) + "/download",
		Group:         r.FormValue("group"),
		Opts:          opts,
		LineSpacing:   strconv.FormatFloat(opts.LineSpacing, 'f', -1, 64),
		Errors:        errs,
		GeneralLegend: appI18n.T(ctx, "GeneralOptions"),
		PdfLegend:     appI18n.T(ctx, "PdfOptions"),
		Download:      appI18n.T(ctx, "DownloadButton"),

		GroupModes: []options.GroupMode{options.ByAttempt, options.ByQuestion},
		NameOrders: []options.NameOrder{options.LastFirst, options.FirstLast},
		Formats:    []options.FileFormat{options.FormatPDF, options.FormatTXT},
		Sources:    []options.TextSource{options.SourceHTML, options.SourcePlain},
		Pages:      []options.PageFormat{options.PageA4, options.PageLetter},
		Fonts:      []options.FontFamily{options.FontSerif, options.FontSans, options.FontMono},
	}
	h.renderPage(w, data, status)
}

func (h *Handler) renderNotice(w http.ResponseWriter, r *http.Request, quiz model.Quiz, notice string) {
	data := pageData{
		Title:    appI18n.T(r.Context(), "AppTitle"),
		QuizName: quiz.Name,
		Notice:   notice,
	}
	h.renderPage(w, data, http.StatusOK)
}

func (h *Handler) renderPage(w http.ResponseWriter, data pageData, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render page", "error", err)
	}
}
