// Package docs renders the operator guide and API reference from AsciiDoc.
package docs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
)

// ErrNotFound is returned for names that are not .adoc files in the docs dir.
var ErrNotFound = errors.New("doc not found")

type cached struct {
	html    string
	modTime time.Time
}

type Service struct {
	docsDir string
	cache   map[string]cached // filename -> rendered html
	mu      sync.RWMutex
}

func NewService(docsDir string) *Service {
	return &Service{
		docsDir: docsDir,
		cache:   make(map[string]cached),
	}
}

// GetDoc renders a document, re-rendering when the file changed on disk.
func (s *Service) GetDoc(ctx context.Context, filename string) (string, error) {
	name := filepath.Base(filename)
	if name != filename || !strings.HasSuffix(name, ".adoc") {
		return "", ErrNotFound
	}

	path := filepath.Join(s.docsDir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat doc file: %w", err)
	}

	s.mu.RLock()
	entry, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.html, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read doc file: %w", err)
	}

	html, err := Render(ctx, bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[name] = cached{html: html, modTime: info.ModTime()}
	s.mu.Unlock()

	return html, nil
}

// Render converts AsciiDoc to an HTML fragment without header and footer.
func Render(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	output := bytes.NewBuffer(nil)
	config := configuration.NewConfiguration(
		configuration.WithHeaderFooter(false), // embedded in our layout
		configuration.WithAttribute("toc", "left"),
	)

	if _, err := libasciidoc.Convert(r, output, config); err != nil {
		return "", fmt.Errorf("failed to convert asciidoc: %w", err)
	}
	return output.String(), nil
}

// ListDocs returns the .adoc files in the docs dir, sorted.
func (s *Service) ListDocs() ([]string, error) {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		return nil, err
	}

	var docs []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".adoc") {
			docs = append(docs, entry.Name())
		}
	}
	sort.Strings(docs)
	return docs, nil
}
