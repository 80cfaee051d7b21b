package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeDoc(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestGetDocRendersAndRefreshes(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "guide.adoc", "= Guide\n\nFirst *draft*.\n")
	writeDoc(t, dir, "notes.txt", "ignored")

	svc := NewService(dir)

	docs, err := svc.ListDocs()
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(docs) != 1 || docs[0] != "guide.adoc" {
		t.Fatalf("expected only guide.adoc, got %v", docs)
	}

	html, err := svc.GetDoc(context.Background(), "guide.adoc")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if !strings.Contains(html, "<strong>draft</strong>") {
		t.Fatalf("expected rendered bold text, got %q", html)
	}

	writeDoc(t, dir, "guide.adoc", "= Guide\n\nSecond version.\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(filepath.Join(dir, "guide.adoc"), later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	html, err = svc.GetDoc(context.Background(), "guide.adoc")
	if err != nil {
		t.Fatalf("GetDoc after edit: %v", err)
	}
	if !strings.Contains(html, "Second version.") {
		t.Fatalf("expected re-rendered content, got %q", html)
	}
}

func TestGetDocRejectsOutsideNames(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir)

	for _, name := range []string{"../secret.adoc", "missing.adoc", "guide.txt"} {
		if _, err := svc.GetDoc(context.Background(), name); err != ErrNotFound {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}
