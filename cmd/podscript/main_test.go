package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podscript/pkg/db"
	"podscript/pkg/model"
	"podscript/pkg/store"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		path     string
		override string
		want     model.SourceFormat
	}{
		{"article.html", "", model.FormatHTML},
		{"article.HTM", "", model.FormatHTML},
		{"notes.txt", "", model.FormatText},
		{"-", "", model.FormatText},
		{"book.epub", "", model.FormatEPUB},
		{"paper.pdf", "", model.FormatPDF},
		{"article.html", "text", model.FormatText},
	}
	for _, tc := range cases {
		if got := detectFormat(tc.path, tc.override); got != tc.want {
			t.Errorf("detectFormat(%q, %q) = %q, want %q", tc.path, tc.override, got, tc.want)
		}
	}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	s := store.NewSQLiteStore(d)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestListAndShowScripts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := listScripts(ctx, s, &buf, 10); err != nil {
		t.Fatalf("listScripts on empty archive failed: %v", err)
	}
	if !strings.Contains(buf.String(), "archive is empty") {
		t.Errorf("empty archive listing = %q", buf.String())
	}

	script := &model.Script{
		Template: "podcast",
		Lines: []model.ScriptLine{
			{Speaker: "speaker-1", Text: "Welcome to the show."},
			{Speaker: "speaker-2", Text: "Glad to be here."},
		},
		CreatedAt: time.Now(),
	}
	id, err := s.SaveScript(ctx, script, model.QualityReport{Score: 90, Passed: true})
	if err != nil {
		t.Fatalf("SaveScript failed: %v", err)
	}

	buf.Reset()
	if err := listScripts(ctx, s, &buf, 10); err != nil {
		t.Fatalf("listScripts failed: %v", err)
	}
	listing := buf.String()
	for _, want := range []string{id, "podcast", "passed"} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing %q missing %q", listing, want)
		}
	}

	buf.Reset()
	if err := showScript(ctx, s, &buf, id); err != nil {
		t.Fatalf("showScript failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Welcome to the show.") {
		t.Errorf("shown script = %q", buf.String())
	}

	if err := showScript(ctx, s, &buf, "no-such-id"); err == nil {
		t.Error("expected error for an unknown id")
	}
}
