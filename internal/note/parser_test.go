package note

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/token"
)

var testCounter = token.NewEstimatedCounter(4.0)

func TestParse_FullNote(t *testing.T) {
	content := []byte(`---
title: Context Packing
tags:
  - engine
  - retrieval
---

# Context Packing

Budget-bounded assembly, see [[Ranking]] and [[Cache Design|the cache]].

Related work lives under #architecture and #engine.
`)

	doc, err := Parse("notes/packing.md", content, time.Now(), testCounter)
	require.NoError(t, err)

	assert.Equal(t, "notes/packing.md", doc.ID)
	assert.Equal(t, "Context Packing", doc.Title)
	assert.Equal(t, []string{"architecture", "engine", "retrieval"}, doc.Tags)
	assert.Equal(t, []string{"Cache Design", "Ranking"}, doc.Links)
	assert.NotEmpty(t, doc.ContentHash)
	assert.Positive(t, doc.TokenCount)
}

func TestParse_TitleFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		content string
		want    string
	}{
		{"frontmatter wins", "a.md", "---\ntitle: FM Title\n---\n# H1 Title\n", "FM Title"},
		{"h1 fallback", "a.md", "# H1 Title\n\nbody\n", "H1 Title"},
		{"filename fallback", "daily/2026-08-26.md", "just text\n", "2026-08-26"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(tt.id, []byte(tt.content), time.Now(), testCounter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Title)
		})
	}
}

func TestParse_EmptyNoteRejected(t *testing.T) {
	_, err := Parse("empty.md", []byte("   \n\t\n"), time.Now(), testCounter)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.New(errors.ErrCodeDocumentEmpty, "", nil)))
}

func TestParse_InvalidUTF8Rejected(t *testing.T) {
	_, err := Parse("binary.md", []byte{0xff, 0xfe, 0x01}, time.Now(), testCounter)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDocumentUnreadable, errors.GetCode(err))
}

func TestParse_BrokenFrontmatterStillIndexes(t *testing.T) {
	content := []byte("---\ntags: [unclosed\n---\n\nBody with [[Link]].\n")
	doc, err := Parse("broken.md", content, time.Now(), testCounter)
	require.NoError(t, err)
	assert.Equal(t, []string{"Link"}, doc.Links)
}

func TestParse_ScalarTagList(t *testing.T) {
	content := []byte("---\ntags: alpha, beta\n---\n\nBody.\n")
	doc, err := Parse("scalar.md", content, time.Now(), testCounter)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, doc.Tags)
}

func TestParse_WikilinkVariants(t *testing.T) {
	content := []byte("See [[Plain]], [[With|alias]], [[Sectioned#Heading]], and [[Both#H|a]].\n")
	doc, err := Parse("links.md", content, time.Now(), testCounter)
	require.NoError(t, err)
	assert.Equal(t, []string{"Both", "Plain", "Sectioned", "With"}, doc.Links)
}

func TestParse_IdenticalContentSameHash(t *testing.T) {
	content := []byte("# Note\n\nStable content.\n")
	a, err := Parse("a.md", content, time.Now(), testCounter)
	require.NoError(t, err)
	b, err := Parse("a.md", content, time.Now().Add(time.Hour), testCounter)
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestParse_HeadingIsNotATag(t *testing.T) {
	content := []byte("# Heading\n\nbody text\n")
	doc, err := Parse("h.md", content, time.Now(), testCounter)
	require.NoError(t, err)
	assert.Empty(t, doc.Tags)
}
