package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/pavelanni/essayexport/internal/model"
	"github.com/pavelanni/essayexport/internal/options"
)

// mapSlots is an AttemptStore keyed by attempt id.
type mapSlots map[int64][]model.SlotResponse

func (m mapSlots) SlotsForAttempt(_ context.Context, attemptID int64) ([]model.SlotResponse, error) {
	slots, ok := m[attemptID]
	if !ok {
		return nil, fmt.Errorf("attempt %d not found", attemptID)
	}
	return slots, nil
}

// memFiles is a FileStore over a hash-to-content map.
type memFiles map[string][]byte

func (m memFiles) GetFile(_ context.Context, hash string) ([]byte, error) {
	content, ok := m[hash]
	if !ok {
		return nil, fmt.Errorf("file %s not found", hash)
	}
	return content, nil
}

// stubRenderer produces predictable output and can be told to fail or
// panic on a specific title.
type stubRenderer struct {
	failTitle  string
	panicTitle string
}

func (r stubRenderer) Render(_ context.Context, text, title, subtitle, author string) ([]byte, error) {
	if title == r.failTitle {
		return nil, errors.New("render failure")
	}
	if title == r.panicTitle {
		panic("render panic")
	}
	return []byte("%PDF-stub " + title + "\n" + text), nil
}

func essaySlot(slot, number int, name, response string, atts ...model.Attachment) model.SlotResponse {
	return model.SlotResponse{
		Slot:            slot,
		Number:          number,
		ResolvedType:    "essay",
		Name:            name,
		QuestionSummary: "Question text for " + name,
		ResponseSummary: response,
		Attachments:     atts,
	}
}

func readArchive(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	entries := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		entries[f.Name] = string(content)
	}
	return entries
}

func TestAssemblePlainTextArchive(t *testing.T) {
	initI18n(t)
	ctx := context.Background()

	files := memFiles{"h1": []byte("attached content")}
	store := mapSlots{
		1: {essaySlot(1, 1, "Write", "Alice's answer", model.Attachment{Filename: "notes.txt", Hash: "h1", Size: 16})},
		2: {essaySlot(1, 1, "Write", "Bob's answer")},
	}
	attempts := []model.AttemptRecord{
		{ID: 1, UserID: 1, FirstName: "Alice", LastName: "Smith", Path: "Smith_Alice_1_20240503_103000"},
		{ID: 2, UserID: 2, FirstName: "Bob", LastName: "Jones", Path: "Jones_Bob_2_20240503_110000"},
	}

	opts := options.Default()
	opts.Format = options.FormatTXT
	opts = opts.ResolveDependencies()

	var buf bytes.Buffer
	sink := NewZipSink(&buf, files)
	res, err := Assemble(ctx, sink, store, attempts, opts, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := sink.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !res.Written || res.Errors != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	entries := readArchive(t, &buf)
	want := map[string]string{
		"Smith_Alice_1_20240503_103000/Question_1_-_Write/questiontext.txt":      "Question text for Write",
		"Smith_Alice_1_20240503_103000/Question_1_-_Write/response.txt":          "Alice's answer\n\nAttachments: notes.txt (16\u00a0bytes)",
		"Smith_Alice_1_20240503_103000/Question_1_-_Write/attachments/notes.txt": "attached content",
		"Jones_Bob_2_20240503_110000/Question_1_-_Write/questiontext.txt":        "Question text for Write",
		"Jones_Bob_2_20240503_110000/Question_1_-_Write/response.txt":            "Bob's answer",
	}
	if len(entries) != len(want) {
		t.Errorf("expected %d archive entries, got %d: %v", len(want), len(entries), keys(entries))
	}
	for path, content := range want {
		if got, ok := entries[path]; !ok {
			t.Errorf("missing archive entry %q", path)
		} else if got != content {
			t.Errorf("entry %q:\n got %q\nwant %q", path, got, content)
		}
	}
}

func TestAssembleGroupByQuestion(t *testing.T) {
	initI18n(t)
	ctx := context.Background()

	store := mapSlots{
		1: {
			essaySlot(1, 1, "First", "a1"),
			essaySlot(2, 2, "Second", "a2"),
		},
	}
	attempts := []model.AttemptRecord{
		{ID: 1, UserID: 1, FirstName: "Alice", LastName: "Smith", Path: "Smith_Alice_1_20240503_103000"},
	}

	opts := options.Default()
	opts.Format = options.FormatTXT
	opts.GroupBy = options.ByQuestion
	opts.QuestionText = false
	opts = opts.ResolveDependencies()

	var buf bytes.Buffer
	sink := NewZipSink(&buf, memFiles{})
	if _, err := Assemble(ctx, sink, store, attempts, opts, nil); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := sink.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	entries := readArchive(t, &buf)
	for _, path := range []string{
		"Question_1_-_First/Smith_Alice_1_20240503_103000/response.txt",
		"Question_2_-_Second/Smith_Alice_1_20240503_103000/response.txt",
	} {
		if _, ok := entries[path]; !ok {
			t.Errorf("missing archive entry %q, have %v", path, keys(entries))
		}
	}
}

func TestAssembleErrorIsolation(t *testing.T) {
	initI18n(t)
	ctx := context.Background()

	store := mapSlots{
		1: {
			essaySlot(1, 1, "First", "a1"),
			essaySlot(2, 2, "Second", "a2"),
			essaySlot(3, 3, "Third", "a3"),
		},
	}
	attempts := []model.AttemptRecord{
		{ID: 1, UserID: 1, FirstName: "Alice", LastName: "Smith", Path: "Smith_Alice_1_20240503_103000"},
	}

	opts := options.Default()
	opts.Source = options.SourcePlain
	opts.QuestionText = false

	renderer := stubRenderer{failTitle: "Question_2_-_Second"}

	var buf bytes.Buffer
	sink := NewZipSink(&buf, memFiles{})
	res, err := Assemble(ctx, sink, store, attempts, opts, renderer)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := sink.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if res.Errors != 1 {
		t.Errorf("expected 1 item error, got %d", res.Errors)
	}
	if !res.Written {
		t.Error("a partially failed export still counts as written")
	}

	entries := readArchive(t, &buf)
	if _, ok := entries["Smith_Alice_1_20240503_103000/Question_1_-_First/response.pdf"]; !ok {
		t.Errorf("expected first question in archive, have %v", keys(entries))
	}
	if _, ok := entries["Smith_Alice_1_20240503_103000/Question_3_-_Third/response.pdf"]; !ok {
		t.Error("a failure must not stop later questions")
	}
	sidecar, ok := entries["error_1.txt"]
	if !ok {
		t.Fatalf("expected error sidecar entry, have %v", keys(entries))
	}
	if !strings.Contains(sidecar, "An error occurred") || !strings.Contains(sidecar, "render failure") {
		t.Errorf("sidecar must explain the failure, got %q", sidecar)
	}
}

func TestAssembleRecoversPanics(t *testing.T) {
	initI18n(t)
	ctx := context.Background()

	store := mapSlots{
		1: {essaySlot(1, 1, "First", "a1"), essaySlot(2, 2, "Second", "a2")},
	}
	attempts := []model.AttemptRecord{
		{ID: 1, UserID: 1, FirstName: "Alice", LastName: "Smith", Path: "Smith_Alice_1_20240503_103000"},
	}

	opts := options.Default()
	opts.Source = options.SourcePlain
	opts.QuestionText = false

	renderer := stubRenderer{panicTitle: "Question_1_-_First"}

	var buf bytes.Buffer
	sink := NewZipSink(&buf, memFiles{})
	res, err := Assemble(ctx, sink, store, attempts, opts, renderer)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := sink.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Errors != 1 {
		t.Errorf("expected the panic recorded as 1 error, got %d", res.Errors)
	}

	entries := readArchive(t, &buf)
	if sidecar, ok := entries["error_1.txt"]; !ok {
		t.Errorf("expected error sidecar, have %v", keys(entries))
	} else if !strings.Contains(sidecar, "render panic") {
		t.Errorf("sidecar must carry the panic value, got %q", sidecar)
	}
	if _, ok := entries["Smith_Alice_1_20240503_103000/Question_2_-_Second/response.pdf"]; !ok {
		t.Error("a panic must not stop later questions")
	}
}

func TestAssembleNothingToWrite(t *testing.T) {
	initI18n(t)
	ctx := context.Background()

	// Only non-essay slots: no entries, no bytes.
	store := mapSlots{
		1: {{Slot: 1, Number: 1, ResolvedType: "multichoice", Name: "Pick one", ResponseSummary: "B"}},
	}
	attempts := []model.AttemptRecord{
		{ID: 1, UserID: 1, FirstName: "Alice", LastName: "Smith", Path: "Smith_Alice_1_20240503_103000"},
	}

	opts := options.Default()
	opts.Format = options.FormatTXT
	opts = opts.ResolveDependencies()

	var buf bytes.Buffer
	sink := NewZipSink(&buf, memFiles{})
	res, err := Assemble(ctx, sink, store, attempts, opts, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if res.Written || res.Errors != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	// Nothing was added, so nothing reached the transport; the caller can
	// still answer with a notice page instead of an empty download.
	if buf.Len() != 0 {
		t.Errorf("expected no output before Finish, got %d bytes", buf.Len())
	}
}

func TestAssembleAbortsOnBrokenAttempt(t *testing.T) {
	initI18n(t)
	ctx := context.Background()

	store := mapSlots{} // every attempt lookup fails
	attempts := []model.AttemptRecord{
		{ID: 7, UserID: 1, FirstName: "Alice", LastName: "Smith", Path: "Smith_Alice_7_20240503_103000"},
	}

	var buf bytes.Buffer
	sink := NewZipSink(&buf, memFiles{})
	if _, err := Assemble(ctx, sink, store, attempts, options.Default(), nil); err == nil {
		t.Error("a broken attempt handle must abort the export")
	}
}

func TestZipSinkAddFromFile(t *testing.T) {
	files := memFiles{"h1": []byte("stored bytes")}

	var buf bytes.Buffer
	sink := NewZipSink(&buf, files)
	att := model.Attachment{Filename: "data.bin", Hash: "h1", Size: 12}
	if err := sink.AddFromFile(context.Background(), "dir/data.bin", att); err != nil {
		t.Fatalf("AddFromFile: %v", err)
	}

	missing := model.Attachment{Filename: "gone.bin", Hash: "nope", Size: 1}
	if err := sink.AddFromFile(context.Background(), "dir/gone.bin", missing); err == nil {
		t.Error("expected error for missing file content")
	}

	if err := sink.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	entries := readArchive(t, &buf)
	if entries["dir/data.bin"] != "stored bytes" {
		t.Errorf("unexpected entry content %q", entries["dir/data.bin"])
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
