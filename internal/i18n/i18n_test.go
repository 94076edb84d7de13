package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NothingToDownload")
	if got != "Nothing to download" {
		t.Errorf("T(NothingToDownload) = %q, want 'Nothing to download'", got)
	}

	got = T(ctx, "NoEssayQuestion")
	if got != "This quiz does not contain any essay questions." {
		t.Errorf("T(NoEssayQuestion) = %q", got)
	}
}

func TestTranslateGerman(t *testing.T) {
	ctx := initLang(t, "de")

	got := T(ctx, "NothingToDownload")
	if got != "Nichts herunterzuladen" {
		t.Errorf("T(NothingToDownload) = %q, want 'Nichts herunterzuladen'", got)
	}

	got = T(ctx, "AppTitle")
	if got != "Essay-Antworten exportieren" {
		t.Errorf("T(AppTitle) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrorFilename", map[string]any{"Count": 3})
	if got != "error_3.txt" {
		t.Errorf("Td(ErrorFilename, Count=3) = %q, want 'error_3.txt'", got)
	}

	got = Td(ctx, "PageNumber", map[string]any{"Page": 7})
	if got != "Page 7" {
		t.Errorf("Td(PageNumber, Page=7) = %q, want 'Page 7'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}
