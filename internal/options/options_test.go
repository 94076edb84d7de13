package options

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

// fakePrefs is a map-backed PreferenceStore.
type fakePrefs map[string]string

func (p fakePrefs) GetPreference(_ context.Context, name string) (string, bool, error) {
	v, ok := p[name]
	return v, ok, nil
}

func (p fakePrefs) SetPreference(_ context.Context, name, value string) error {
	p[name] = value
	return nil
}

func TestDefaults(t *testing.T) {
	o := Default()

	if o.GroupBy != ByAttempt {
		t.Errorf("expected groupby byattempt, got %q", o.GroupBy)
	}
	if o.NameOrdering != LastFirst {
		t.Errorf("expected nameordering lastfirst, got %q", o.NameOrdering)
	}
	if o.Format != FormatPDF {
		t.Errorf("expected format pdf, got %q", o.Format)
	}
	if o.Source != SourceHTML {
		t.Errorf("expected source html, got %q", o.Source)
	}
	if !o.QuestionText || !o.ResponseText || !o.Attachments {
		t.Error("expected question text, response text and attachments on by default")
	}
	if o.OnlyBest || o.ShortenNames || o.IncludeStats {
		t.Error("expected onlybest, shortennames and includestats off by default")
	}
	if o.MarginLeft != 20 || o.MarginRight != 20 || o.MarginTop != 20 || o.MarginBottom != 20 {
		t.Error("expected 20mm margins by default")
	}
	if o.Font != FontSerif || o.FontSize != 12 || o.LineSpacing != 1 {
		t.Error("expected serif 12pt single-spaced by default")
	}
	if !o.FixRemFontSize {
		t.Error("expected rem font size repair on by default")
	}
	if validationErrs := o.Validate(); validationErrs != nil {
		t.Errorf("defaults must validate, got %v", validationErrs)
	}
}

func TestFromPreferences(t *testing.T) {
	ctx := context.Background()

	o, err := FromPreferences(ctx, nil)
	if err != nil {
		t.Fatalf("FromPreferences(nil): %v", err)
	}
	if o != Default() {
		t.Error("nil store should yield defaults")
	}

	prefs := fakePrefs{
		"essayexport_groupby":     "byquestion",
		"essayexport_fileformat":  "txt",
		"essayexport_attachments": "0",
		"essayexport_fontsize":    "9",
	}
	o, err = FromPreferences(ctx, prefs)
	if err != nil {
		t.Fatalf("FromPreferences: %v", err)
	}
	if o.GroupBy != ByQuestion {
		t.Errorf("expected byquestion, got %q", o.GroupBy)
	}
	if o.Format != FormatTXT {
		t.Errorf("expected txt, got %q", o.Format)
	}
	if o.Attachments {
		t.Error("expected attachments off")
	}
	if o.FontSize != 9 {
		t.Errorf("expected fontsize 9, got %d", o.FontSize)
	}
	// Keys the store does not hold keep their defaults.
	if o.NameOrdering != LastFirst || !o.ResponseText {
		t.Error("absent preferences must keep defaults")
	}
}

func TestFromValuesCoercion(t *testing.T) {
	prior := Default()

	q := url.Values{}
	q.Set("fileformat", "txt")
	q.Set("onlybest", "true")
	q.Set("marginleft", "35")
	q.Set("linespacing", "1.5")
	q.Set("font", "mono")
	q.Set("page", "letter")

	o := FromValues(prior, q)
	if o.Format != FormatTXT {
		t.Errorf("expected txt, got %q", o.Format)
	}
	if !o.OnlyBest {
		t.Error("expected onlybest set")
	}
	if o.MarginLeft != 35 {
		t.Errorf("expected marginleft 35, got %d", o.MarginLeft)
	}
	if o.LineSpacing != 1.5 {
		t.Errorf("expected linespacing 1.5, got %v", o.LineSpacing)
	}
	if o.Font != FontMono {
		t.Errorf("expected mono, got %q", o.Font)
	}
	if o.Page != PageLetter {
		t.Errorf("expected letter, got %q", o.Page)
	}
	// Absent parameters keep the prior value, including booleans.
	if !o.QuestionText || !o.Attachments {
		t.Error("absent query parameters must keep prior values")
	}

	// Malformed values fall back to prior rather than zeroing the field.
	bad := url.Values{}
	bad.Set("marginleft", "wide")
	bad.Set("linespacing", "double")
	bad.Set("fileformat", "docx")
	o = FromValues(prior, bad)
	if o.MarginLeft != 20 || o.LineSpacing != 1 || o.Format != FormatPDF {
		t.Errorf("malformed values must keep prior, got %+v", o)
	}
}

func TestFromFormCheckboxSemantics(t *testing.T) {
	prior := Default() // QuestionText, ResponseText, Attachments all true

	form := url.Values{}
	form.Set("fileformat", "pdf")
	form.Set("responsetext", "1")
	// questiontext and attachments absent: unchecked.

	o := FromForm(prior, form)
	if o.QuestionText {
		t.Error("absent checkbox must mean unchecked")
	}
	if !o.ResponseText {
		t.Error("submitted checkbox must mean checked")
	}
	if o.Attachments {
		t.Error("absent checkbox must mean unchecked")
	}
	// Absent selects and numbers keep the prior values.
	if o.GroupBy != prior.GroupBy || o.FontSize != prior.FontSize {
		t.Error("absent select and number fields must keep prior values")
	}
}

func TestResolveDependencies(t *testing.T) {
	o := Default()
	o.Format = FormatTXT
	o.Source = SourceHTML

	o = o.ResolveDependencies()
	if o.Source != SourcePlain {
		t.Errorf("txt output must force plain source, got %q", o.Source)
	}

	// Idempotent.
	if again := o.ResolveDependencies(); again != o {
		t.Error("ResolveDependencies must be idempotent")
	}

	// PDF output keeps the chosen source.
	o = Default()
	o.Source = SourceHTML
	if got := o.ResolveDependencies(); got.Source != SourceHTML {
		t.Errorf("pdf output must keep html source, got %q", got.Source)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		fields []string
	}{
		{"defaults", func(o *Options) {}, nil},
		{"margin too large", func(o *Options) { o.MarginTop = 81 }, []string{"margingroup"}},
		{"margin negative", func(o *Options) { o.MarginLeft = -1 }, []string{"margingroup"}},
		{"margin at bound", func(o *Options) { o.MarginBottom = 80 }, nil},
		{"font too small", func(o *Options) { o.FontSize = 5 }, []string{"fontsize"}},
		{"font too large", func(o *Options) { o.FontSize = 51 }, []string{"fontsize"}},
		{"font at bounds", func(o *Options) { o.FontSize = 6 }, nil},
		{"both wrong", func(o *Options) { o.MarginLeft = 99; o.FontSize = 1 }, []string{"margingroup", "fontsize"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Default()
			tt.mutate(&o)
			errs := o.Validate()
			if len(tt.fields) == 0 {
				if errs != nil {
					t.Fatalf("expected valid, got %v", errs)
				}
				return
			}
			if len(errs) != len(tt.fields) {
				t.Fatalf("expected %d errors, got %v", len(tt.fields), errs)
			}
			for _, f := range tt.fields {
				if _, ok := errs[f]; !ok {
					t.Errorf("expected error for field %q, got %v", f, errs)
				}
			}
		})
	}
}

func TestValidateSkippedForPlainText(t *testing.T) {
	o := Default()
	o.Format = FormatTXT
	o.MarginLeft = 500
	o.FontSize = 0

	if errs := o.Validate(); errs != nil {
		t.Errorf("plain-text output must not validate layout fields, got %v", errs)
	}
}

func TestPersistGating(t *testing.T) {
	ctx := context.Background()

	t.Run("pdf stores layout", func(t *testing.T) {
		prefs := fakePrefs{}
		o := Default()
		o.FontSize = 14
		if err := Persist(ctx, prefs, o, true); err != nil {
			t.Fatalf("Persist: %v", err)
		}
		if prefs["essayexport_fontsize"] != "14" {
			t.Errorf("expected fontsize stored, got %v", prefs)
		}
		if prefs["essayexport_onlybest"] != "0" {
			t.Errorf("expected onlybest stored, got %v", prefs)
		}
	})

	t.Run("txt skips layout", func(t *testing.T) {
		prefs := fakePrefs{}
		o := Default()
		o.Format = FormatTXT
		if err := Persist(ctx, prefs, o, true); err != nil {
			t.Fatalf("Persist: %v", err)
		}
		for name := range prefs {
			for _, layout := range []string{"fontsize", "font", "page", "margin", "linespacing", "source"} {
				if strings.Contains(name, layout) {
					t.Errorf("layout key %q must not be stored for txt output", name)
				}
			}
		}
		if prefs["essayexport_fileformat"] != "txt" {
			t.Errorf("expected fileformat stored, got %v", prefs)
		}
	})

	t.Run("average grading skips onlybest", func(t *testing.T) {
		prefs := fakePrefs{}
		o := Default()
		o.OnlyBest = true
		if err := Persist(ctx, prefs, o, false); err != nil {
			t.Fatalf("Persist: %v", err)
		}
		if _, ok := prefs["essayexport_onlybest"]; ok {
			t.Error("onlybest must not be stored when the filter is unavailable")
		}
	})
}

func TestPreferenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	prefs := fakePrefs{}

	want := Default()
	want.GroupBy = ByQuestion
	want.NameOrdering = FirstLast
	want.ShortenNames = true
	want.IncludeFooter = true
	want.MarginTop = 30
	want.LineSpacing = 1.5
	want.Font = FontSans

	if err := Persist(ctx, prefs, want, true); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	got, err := FromPreferences(ctx, prefs)
	if err != nil {
		t.Fatalf("FromPreferences: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}
