// Package options holds the resolved configuration for one export run and
// the three exclusive ways of populating it: stored user preferences,
// request query parameters, and a submitted settings form.
package options

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GroupMode selects the folder nesting inside the archive.
type GroupMode string

const (
	ByAttempt  GroupMode = "byattempt"
	ByQuestion GroupMode = "byquestion"
)

// NameOrder selects whether path fragments start with the last or the first name.
type NameOrder string

const (
	LastFirst NameOrder = "lastfirst"
	FirstLast NameOrder = "firstlast"
)

// FileFormat is the output format for text content.
type FileFormat string

const (
	FormatTXT FileFormat = "txt"
	FormatPDF FileFormat = "pdf"
)

// TextSource selects between the plain-text summary and the original HTML.
type TextSource string

const (
	SourcePlain TextSource = "plain"
	SourceHTML  TextSource = "html"
)

// PageFormat is the paper size for PDF output.
type PageFormat string

const (
	PageA4     PageFormat = "a4"
	PageLetter PageFormat = "letter"
)

// FontFamily is the base font for PDF output.
type FontFamily string

const (
	FontSans  FontFamily = "sans"
	FontSerif FontFamily = "serif"
	FontMono  FontFamily = "mono"
)

// Options is the resolved configuration for one export run. It is built
// fresh per request by exactly one of FromPreferences, FromValues or
// FromForm, then normalized with ResolveDependencies.
type Options struct {
	GroupBy        GroupMode
	NameOrdering   NameOrder
	Format         FileFormat
	Source         TextSource
	QuestionText   bool
	ResponseText   bool
	Attachments    bool
	ShortenNames   bool
	OnlyBest       bool
	ForceQTSummary bool
	IncludeStats   bool

	// PDF layout.
	Page           PageFormat
	MarginLeft     int
	MarginRight    int
	MarginTop      int
	MarginBottom   int
	LineSpacing    float64
	Font           FontFamily
	FontSize       int
	IncludeFooter  bool
	FixRemFontSize bool
}

// Default returns the built-in defaults.
func Default() Options {
	return Options{
		GroupBy:        ByAttempt,
		NameOrdering:   LastFirst,
		Format:         FormatPDF,
		Source:         SourceHTML,
		QuestionText:   true,
		ResponseText:   true,
		Attachments:    true,
		Page:           PageA4,
		MarginLeft:     20,
		MarginRight:    20,
		MarginTop:      20,
		MarginBottom:   20,
		LineSpacing:    1,
		Font:           FontSerif,
		FontSize:       12,
		FixRemFontSize: true,
	}
}

// PreferenceStore is the narrow key-value interface to the host's per-user
// settings storage.
type PreferenceStore interface {
	GetPreference(ctx context.Context, name string) (value string, ok bool, err error)
	SetPreference(ctx context.Context, name, value string) error
}

const prefPrefix = "essayexport_"

// FromPreferences populates options from the preference store, falling back
// to the built-in default for every absent key. A nil store returns the
// defaults unchanged.
func FromPreferences(ctx context.Context, prefs PreferenceStore) (Options, error) {
	o := Default()
	if prefs == nil {
		return o, nil
	}

	get := func(key string) (string, bool) {
		v, ok, err := prefs.GetPreference(ctx, prefPrefix+key)
		if err != nil || !ok {
			return "", false
		}
		return v, true
	}
	populate(&o, get)
	return o, nil
}

// FromValues populates options from request query parameters, with type
// coercion and fallback to prior for every absent parameter.
func FromValues(prior Options, q url.Values) Options {
	o := prior
	get := func(key string) (string, bool) {
		if !q.Has(key) {
			return "", false
		}
		return q.Get(key), true
	}
	populate(&o, get)
	return o
}

// FromForm populates options from a submitted settings form. Unlike
// FromValues, an absent checkbox means unchecked, not "keep the prior
// value"; select and text fields still fall back to prior because the form
// disables the PDF block when plain-text output is chosen.
func FromForm(prior Options, form url.Values) Options {
	o := prior

	o.GroupBy = groupMode(form.Get("groupby"), prior.GroupBy)
	o.NameOrdering = nameOrder(form.Get("nameordering"), prior.NameOrdering)
	o.Format = fileFormat(form.Get("fileformat"), prior.Format)
	o.Source = textSource(form.Get("source"), prior.Source)

	o.QuestionText = boolValue(form.Get("questiontext"))
	o.ResponseText = boolValue(form.Get("responsetext"))
	o.Attachments = boolValue(form.Get("attachments"))
	o.ShortenNames = boolValue(form.Get("shortennames"))
	o.OnlyBest = boolValue(form.Get("onlybest"))
	o.ForceQTSummary = boolValue(form.Get("forceqtsummary"))
	o.IncludeStats = boolValue(form.Get("includestats"))
	o.IncludeFooter = boolValue(form.Get("includefooter"))
	o.FixRemFontSize = boolValue(form.Get("fixremfontsize"))

	o.Page = pageFormat(form.Get("page"), prior.Page)
	o.MarginLeft = intValue(form.Get("marginleft"), prior.MarginLeft)
	o.MarginRight = intValue(form.Get("marginright"), prior.MarginRight)
	o.MarginTop = intValue(form.Get("margintop"), prior.MarginTop)
	o.MarginBottom = intValue(form.Get("marginbottom"), prior.MarginBottom)
	o.LineSpacing = floatValue(form.Get("linespacing"), prior.LineSpacing)
	o.Font = fontFamily(form.Get("font"), prior.Font)
	o.FontSize = intValue(form.Get("fontsize"), prior.FontSize)

	return o
}

// populate reads every field through the given lookup, keeping the current
// value when the lookup reports the key as absent.
func populate(o *Options, get func(key string) (string, bool)) {
	if v, ok := get("groupby"); ok {
		o.GroupBy = groupMode(v, o.GroupBy)
	}
	if v, ok := get("nameordering"); ok {
		o.NameOrdering = nameOrder(v, o.NameOrdering)
	}
	if v, ok := get("fileformat"); ok {
		o.Format = fileFormat(v, o.Format)
	}
	if v, ok := get("source"); ok {
		o.Source = textSource(v, o.Source)
	}
	if v, ok := get("questiontext"); ok {
		o.QuestionText = boolValue(v)
	}
	if v, ok := get("responsetext"); ok {
		o.ResponseText = boolValue(v)
	}
	if v, ok := get("attachments"); ok {
		o.Attachments = boolValue(v)
	}
	if v, ok := get("shortennames"); ok {
		o.ShortenNames = boolValue(v)
	}
	if v, ok := get("onlybest"); ok {
		o.OnlyBest = boolValue(v)
	}
	if v, ok := get("forceqtsummary"); ok {
		o.ForceQTSummary = boolValue(v)
	}
	if v, ok := get("includestats"); ok {
		o.IncludeStats = boolValue(v)
	}
	if v, ok := get("includefooter"); ok {
		o.IncludeFooter = boolValue(v)
	}
	if v, ok := get("fixremfontsize"); ok {
		o.FixRemFontSize = boolValue(v)
	}
	if v, ok := get("page"); ok {
		o.Page = pageFormat(v, o.Page)
	}
	if v, ok := get("marginleft"); ok {
		o.MarginLeft = intValue(v, o.MarginLeft)
	}
	if v, ok := get("marginright"); ok {
		o.MarginRight = intValue(v, o.MarginRight)
	}
	if v, ok := get("margintop"); ok {
		o.MarginTop = intValue(v, o.MarginTop)
	}
	if v, ok := get("marginbottom"); ok {
		o.MarginBottom = intValue(v, o.MarginBottom)
	}
	if v, ok := get("linespacing"); ok {
		o.LineSpacing = floatValue(v, o.LineSpacing)
	}
	if v, ok := get("font"); ok {
		o.Font = fontFamily(v, o.Font)
	}
	if v, ok := get("fontsize"); ok {
		o.FontSize = intValue(v, o.FontSize)
	}
}

// ResolveDependencies reconciles mutually exclusive choices. Plain-text
// output always uses the plain summary source, whatever the stored
// preference says. Pure and idempotent.
func (o Options) ResolveDependencies() Options {
	if o.Format == FormatTXT {
		o.Source = SourcePlain
	}
	return o
}

// ValidationErrors maps a form field to a message ID describing why its
// value was rejected. The caller translates the IDs for display.
type ValidationErrors map[string]string

func (e ValidationErrors) Error() string {
	return fmt.Sprintf("%d invalid settings", len(e))
}

// Validate checks the PDF layout parameters. It returns nil for plain-text
// output: the layout fields are hidden then and may hold anything. Values
// out of range are rejected, never clamped.
func (o Options) Validate() ValidationErrors {
	if o.Format != FormatPDF {
		return nil
	}

	errs := ValidationErrors{}
	for _, m := range []int{o.MarginLeft, o.MarginRight, o.MarginTop, o.MarginBottom} {
		if m < 0 || m > 80 {
			errs["margingroup"] = "ErrorMargin"
		}
	}
	if o.FontSize < 6 || o.FontSize > 50 {
		errs["fontsize"] = "ErrorFontSize"
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Persist writes the options back to the preference store. Fields that only
// make sense for PDF output are stored only when PDF output is selected, so
// that a later form load does not pick up values the form would then hide.
// The only-best flag is stored only when the caller confirms the quiz's
// grading method supports that filter.
func Persist(ctx context.Context, prefs PreferenceStore, o Options, canFilterOnlyBest bool) error {
	if prefs == nil {
		return nil
	}

	general := map[string]string{
		"groupby":      string(o.GroupBy),
		"nameordering": string(o.NameOrdering),
		"fileformat":   string(o.Format),
		"questiontext": boolString(o.QuestionText),
		"responsetext": boolString(o.ResponseText),
		"attachments":  boolString(o.Attachments),
		"shortennames": boolString(o.ShortenNames),
		"includestats": boolString(o.IncludeStats),
	}
	for k, v := range general {
		if err := prefs.SetPreference(ctx, prefPrefix+k, v); err != nil {
			return fmt.Errorf("store preference %s: %w", k, err)
		}
	}

	if o.Format == FormatPDF {
		layout := map[string]string{
			"source":         string(o.Source),
			"forceqtsummary": boolString(o.ForceQTSummary),
			"includefooter":  boolString(o.IncludeFooter),
			"fixremfontsize": boolString(o.FixRemFontSize),
			"page":           string(o.Page),
			"marginleft":     strconv.Itoa(o.MarginLeft),
			"marginright":    strconv.Itoa(o.MarginRight),
			"margintop":      strconv.Itoa(o.MarginTop),
			"marginbottom":   strconv.Itoa(o.MarginBottom),
			"linespacing":    strconv.FormatFloat(o.LineSpacing, 'f', -1, 64),
			"font":           string(o.Font),
			"fontsize":       strconv.Itoa(o.FontSize),
		}
		for k, v := range layout {
			if err := prefs.SetPreference(ctx, prefPrefix+k, v); err != nil {
				return fmt.Errorf("store preference %s: %w", k, err)
			}
		}
	}

	if canFilterOnlyBest {
		if err := prefs.SetPreference(ctx, prefPrefix+"onlybest", boolString(o.OnlyBest)); err != nil {
			return fmt.Errorf("store preference onlybest: %w", err)
		}
	}

	return nil
}

func boolValue(s string) bool {
	switch s {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func intValue(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func floatValue(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func groupMode(s string, fallback GroupMode) GroupMode {
	switch GroupMode(s) {
	case ByAttempt, ByQuestion:
		return GroupMode(s)
	}
	return fallback
}

func nameOrder(s string, fallback NameOrder) NameOrder {
	switch NameOrder(s) {
	case LastFirst, FirstLast:
		return NameOrder(s)
	}
	return fallback
}

func fileFormat(s string, fallback FileFormat) FileFormat {
	switch FileFormat(s) {
	case FormatTXT, FormatPDF:
		return FileFormat(s)
	}
	return fallback
}

func textSource(s string, fallback TextSource) TextSource {
	switch TextSource(s) {
	case SourcePlain, SourceHTML:
		return TextSource(s)
	}
	return fallback
}

func pageFormat(s string, fallback PageFormat) PageFormat {
	switch PageFormat(s) {
	case PageA4, PageLetter:
		return PageFormat(s)
	}
	return fallback
}

func fontFamily(s string, fallback FontFamily) FontFamily {
	switch FontFamily(s) {
	case FontSans, FontSerif, FontMono:
		return FontFamily(s)
	}
	return fallback
}
