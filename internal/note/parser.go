package note

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/errors"
	"github.com/caioniehues/obsidian-copilot-sub001/internal/token"
)

// Regex patterns for markdown note parsing.
var (
	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)

	// Matches wikilinks: [[Target]], [[Target|alias]], [[Target#Section]]
	wikilinkPattern = regexp.MustCompile(`\[\[([^\[\]|#]+)(?:#[^\[\]|]*)?(?:\|[^\[\]]*)?\]\]`)

	// Matches inline tags: #project, #area/sub
	inlineTagPattern = regexp.MustCompile(`(?:^|\s)#([a-zA-Z][\w/-]*)`)

	// Matches the first H1 heading.
	h1Pattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// frontmatter is the subset of note frontmatter the engine cares about.
type frontmatter struct {
	Title string   `yaml:"title"`
	Tags  tagList  `yaml:"tags"`
}

// tagList accepts both YAML list and comma-separated scalar forms, which
// both occur in real vaults.
type tagList []string

func (t *tagList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*t = items
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				*t = append(*t, part)
			}
		}
	}
	return nil
}

// Parse builds a Document from raw note content. The counter supplies the
// engine-wide token counting rule.
//
// Malformed notes are rejected with a corpus error: callers skip and log,
// never abort a batch. Broken frontmatter is not malformed; the note body
// still indexes.
func Parse(id string, content []byte, modTime time.Time, counter token.Counter) (*Document, error) {
	if len(content) == 0 || strings.TrimSpace(string(content)) == "" {
		return nil, errors.New(errors.ErrCodeDocumentEmpty, "note is empty", nil).
			WithDetail("path", id)
	}
	if !utf8.Valid(content) {
		return nil, errors.New(errors.ErrCodeDocumentUnreadable, "note is not valid UTF-8", nil).
			WithDetail("path", id)
	}

	text := string(content)
	doc := &Document{
		ID:          id,
		Text:        text,
		ModTime:     modTime,
		ContentHash: HashContent(text),
		TokenCount:  counter.Count(text),
	}

	body := text
	var fm frontmatter
	if m := frontmatterPattern.FindStringSubmatch(text); m != nil {
		// Unparseable frontmatter degrades to no metadata.
		_ = yaml.Unmarshal([]byte(m[1]), &fm)
		body = text[len(m[0]):]
	}

	doc.Title = resolveTitle(id, fm.Title, body)
	doc.Tags = collectTags(fm.Tags, body)
	doc.Links = collectLinks(body)

	return doc, nil
}

// resolveTitle picks the document title: frontmatter, then first H1, then
// the filename stem.
func resolveTitle(id, fmTitle, body string) string {
	if fmTitle != "" {
		return fmTitle
	}
	if m := h1Pattern.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	base := filepath.Base(id)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// collectTags merges frontmatter and inline tags, normalized lowercase,
// deduplicated, sorted for determinism.
func collectTags(fmTags []string, body string) []string {
	seen := make(map[string]struct{})
	for _, t := range fmTags {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t != "" {
			seen[t] = struct{}{}
		}
	}
	for _, m := range inlineTagPattern.FindAllStringSubmatch(body, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}

	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// collectLinks extracts outbound wikilink targets, deduplicated and sorted.
// Targets keep their written casing; resolution against actual note paths is
// the indexer's job.
func collectLinks(body string) []string {
	seen := make(map[string]struct{})
	for _, m := range wikilinkPattern.FindAllStringSubmatch(body, -1) {
		target := strings.TrimSpace(m[1])
		if target != "" {
			seen[target] = struct{}{}
		}
	}

	links := make([]string, 0, len(seen))
	for l := range seen {
		links = append(links, l)
	}
	sort.Strings(links)
	return links
}
