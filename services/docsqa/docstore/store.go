// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package docstore owns the on-disk document set: the data/raw directory
// of plain-text and markdown sources, plus the legacy single-file mode
// where only data/doc.txt exists.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

const (
	// LegacyDocName is the single-document fallback read from the data
	// directory root when data/raw is absent or empty.
	LegacyDocName = "doc.txt"

	rawDirName = "raw"

	maxUploadBytes = 8 << 20

	fetchTimeout = 30 * time.Second
)

// ErrUnsupportedType is returned for files that are not .txt or .md.
var ErrUnsupportedType = errors.New("unsupported document type (want .txt or .md)")

// ErrNotFound is returned when a named document does not exist.
var ErrNotFound = errors.New("document not found")

// Store reads and writes the document set under a data directory.
type Store struct {
	dataDir string
	client  *http.Client
}

// NewStore creates a Store rooted at dataDir, creating data/raw if needed.
func NewStore(dataDir string) (*Store, error) {
	rawDir := filepath.Join(dataDir, rawDirName)
	if err := os.MkdirAll(rawDir, 0750); err != nil {
		return nil, fmt.Errorf("create document directory %s: %w", rawDir, err)
	}
	return &Store{
		dataDir: dataDir,
		client:  &http.Client{Timeout: fetchTimeout},
	}, nil
}

// RawDir returns the multi-document input directory.
func (s *Store) RawDir() string {
	return filepath.Join(s.dataDir, rawDirName)
}

func supportedName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// List returns the current document set in deterministic order
// (case-insensitive by filename). When data/raw holds no supported files,
// the legacy data/doc.txt is returned alone if it exists; an empty set is
// not an error.
func (s *Store) List() ([]datatypes.Document, error) {
	entries, err := os.ReadDir(s.RawDir())
	if err != nil {
		return nil, fmt.Errorf("read document directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !supportedName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	if len(names) == 0 {
		legacy := filepath.Join(s.dataDir, LegacyDocName)
		text, err := os.ReadFile(legacy)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", LegacyDocName, err)
		}
		return []datatypes.Document{datatypes.NewDocument(LegacyDocName, string(text))}, nil
	}

	docs := make([]datatypes.Document, 0, len(names))
	for _, name := range names {
		text, err := os.ReadFile(filepath.Join(s.RawDir(), name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		docs = append(docs, datatypes.NewDocument(name, string(text)))
	}
	return docs, nil
}

// Get returns one document by filename.
func (s *Store) Get(name string) (datatypes.Document, error) {
	docs, err := s.List()
	if err != nil {
		return datatypes.Document{}, err
	}
	for _, doc := range docs {
		if doc.Source == name {
			return doc, nil
		}
	}
	return datatypes.Document{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// sanitizeName strips any path components and validates the extension.
func sanitizeName(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	if !supportedName(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, name)
	}
	return name, nil
}

// Save writes an uploaded document into data/raw and returns it.
func (s *Store) Save(name string, r io.Reader) (datatypes.Document, error) {
	name, err := sanitizeName(name)
	if err != nil {
		return datatypes.Document{}, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return datatypes.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return datatypes.Document{}, fmt.Errorf("document %s exceeds %d bytes", name, maxUploadBytes)
	}

	dest := filepath.Join(s.RawDir(), name)
	if err := os.WriteFile(dest, data, 0640); err != nil {
		return datatypes.Document{}, fmt.Errorf("write %s: %w", dest, err)
	}
	slog.Info("Saved document", "source", name, "bytes", len(data))
	return datatypes.NewDocument(name, string(data)), nil
}

// FetchURL downloads a document over HTTP(S) into data/raw. The filename
// is the final URL path segment; a missing or unsupported extension gets
// ".txt" appended.
func (s *Store) FetchURL(ctx context.Context, rawURL string) (datatypes.Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return datatypes.Document{}, fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return datatypes.Document{}, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "/" || name == "." {
		name = "download.txt"
	}
	if !supportedName(name) {
		name += ".txt"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return datatypes.Document{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return datatypes.Document{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return datatypes.Document{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	return s.Save(name, resp.Body)
}
