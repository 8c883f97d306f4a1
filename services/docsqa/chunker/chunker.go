// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunker splits source documents into ordered, addressable chunks
// with stable identifiers.
//
// Splitting is hierarchical: markdown headings first, then recursive
// character splitting inside each section (paragraph, line, word, rune
// boundaries in that order). Chunk IDs are assigned by final document-order
// position, zero-padded, scoped per source filename. Re-running the chunker
// on unchanged text with the same configuration reproduces identical
// boundaries and IDs.
package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

// Config controls chunk granularity. The zero value is not usable; call
// DefaultConfig.
type Config struct {
	// ChunkSize is the maximum chunk length in bytes.
	ChunkSize int
	// ChunkOverlap is carried between adjacent chunks within a section.
	ChunkOverlap int
	// MinChunkSize merges trailing micro-chunks into their predecessor.
	// Chunks may still end up smaller when a whole section is tiny.
	MinChunkSize int
}

// DefaultConfig matches the indexing fingerprint defaults: 800-byte chunks
// with 100 bytes of overlap.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    800,
		ChunkOverlap: 100,
		MinChunkSize: 80,
	}
}

// Chunker produces the ordered chunk sequence for a document.
type Chunker struct {
	cfg      Config
	splitter textsplitter.TextSplitter
}

// New creates a Chunker. Invalid config values fall back to defaults.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.MinChunkSize < 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	return &Chunker{
		cfg: cfg,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
	}
}

// Chunk splits a document into its ordered chunk sequence.
//
// IDs are "chunk-00", "chunk-01", ... by final position; the counter runs
// across sections so IDs are unique within the document. IDs widen past two
// digits for very large documents (chunk-100) without re-padding earlier
// ones.
func (c *Chunker) Chunk(doc datatypes.Document) ([]datatypes.Chunk, error) {
	var out []datatypes.Chunk
	chunkIndex := 0

	for _, sec := range splitSections(doc.Text) {
		// Include the title as context so section chunks stay searchable
		// on their heading terms.
		input := sec.body
		if sec.title != "" {
			input = sec.title + "\n\n" + sec.body
		}

		pieces, err := c.splitter.SplitText(input)
		if err != nil {
			return nil, fmt.Errorf("failed to split section %q of %s: %w", sec.title, doc.Source, err)
		}
		pieces = c.mergeMicroChunks(pieces)

		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			out = append(out, datatypes.Chunk{
				Source:  doc.Source,
				ChunkID: fmt.Sprintf("chunk-%02d", chunkIndex),
				Section: sec.title,
				Text:    piece,
			})
			chunkIndex++
		}
	}
	return out, nil
}

// mergeMicroChunks folds pieces shorter than MinChunkSize into their
// predecessor so degenerate tails don't become standalone chunks.
func (c *Chunker) mergeMicroChunks(pieces []string) []string {
	if c.cfg.MinChunkSize <= 0 || len(pieces) < 2 {
		return pieces
	}
	merged := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if len(merged) > 0 && len(strings.TrimSpace(p)) < c.cfg.MinChunkSize {
			merged[len(merged)-1] = merged[len(merged)-1] + "\n" + p
			continue
		}
		merged = append(merged, p)
	}
	return merged
}

// section is one heading-delimited region of a document.
type section struct {
	title string
	body  string
}

// splitSections splits text on markdown headings.
//
// Supports ATX headings ("# Title", "## Title", ...) and setext headings
// (a title line underlined with === or ---). Documents without headings
// come back as a single untitled section.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	curTitle := ""
	var curLines []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(curLines, "\n"))
		if body != "" {
			sections = append(sections, section{title: curTitle, body: body})
		}
		curLines = curLines[:0]
	}

	i := 0
	for i < len(lines) {
		stripped := strings.TrimSpace(lines[i])

		if strings.HasPrefix(stripped, "#") {
			title := strings.TrimSpace(strings.TrimLeft(stripped, "#"))
			if title != "" {
				flush()
				curTitle = title
				i++
				continue
			}
		}

		if i+1 < len(lines) && stripped != "" {
			next := strings.TrimSpace(lines[i+1])
			if isSetextUnderline(next) {
				flush()
				curTitle = stripped
				i += 2
				continue
			}
		}

		curLines = append(curLines, lines[i])
		i++
	}
	flush()

	// No titled section found means the heading scan was a no-op; keep the
	// document as one block.
	titled := false
	for _, s := range sections {
		if s.title != "" {
			titled = true
			break
		}
	}
	if !titled {
		body := strings.TrimSpace(text)
		if body == "" {
			return nil
		}
		return []section{{title: "", body: body}}
	}
	return sections
}

func isSetextUnderline(line string) bool {
	if len(line) < 3 {
		return false
	}
	for _, r := range line {
		if r != '=' && r != '-' {
			return false
		}
	}
	return true
}
