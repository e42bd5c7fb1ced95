package note

import (
	"regexp"
	"strings"

	"github.com/caioniehues/obsidian-copilot-sub001/internal/token"
)

// DefaultMaxChunkTokens caps a single chunk. Sections larger than this are
// split at paragraph boundaries.
const DefaultMaxChunkTokens = 512

// headerPattern matches markdown headings: # Title through ###### Title.
var headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// ChunkerOptions configures chunking behavior.
type ChunkerOptions struct {
	MaxChunkTokens int
}

// section is a heading-delimited region of the note.
type section struct {
	headerPath string
	start      int
	end        int
}

// Split divides a document into chunks at heading boundaries, carrying the
// heading breadcrumb as context. Offsets index into doc.Text.
func Split(doc *Document, counter token.Counter, opts ChunkerOptions) []*Chunk {
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}

	sections := parseSections(doc.Text)

	var chunks []*Chunk
	for _, sec := range sections {
		text := doc.Text[sec.start:sec.end]
		if strings.TrimSpace(text) == "" {
			continue
		}

		count := counter.Count(text)
		if count <= opts.MaxChunkTokens {
			chunks = append(chunks, newChunk(doc, sec.headerPath, sec.start, sec.end, text, count))
			continue
		}
		chunks = append(chunks, splitByParagraphs(doc, sec, counter, opts.MaxChunkTokens)...)
	}

	return chunks
}

// parseSections walks the note line by line, tracking the heading hierarchy
// so each section knows its breadcrumb path.
func parseSections(text string) []*section {
	lines := strings.Split(text, "\n")
	headerStack := make([]string, 6)

	var sections []*section
	current := &section{start: 0}
	offset := 0

	for _, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			if offset > current.start {
				current.end = offset
				sections = append(sections, current)
			}

			level := len(m[1])
			headerStack[level-1] = strings.TrimSpace(m[2])
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}

			var parts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					parts = append(parts, headerStack[i])
				}
			}

			current = &section{
				headerPath: strings.Join(parts, " > "),
				start:      offset,
			}
		}
		offset += len(line) + 1 // +1 for the split newline
	}

	if offset > len(text) {
		offset = len(text)
	}
	if offset > current.start {
		current.end = offset
		sections = append(sections, current)
	}

	return sections
}

// splitByParagraphs breaks an oversized section at blank lines, greedily
// accumulating paragraphs up to the token cap. A single paragraph over the
// cap becomes its own chunk; units are never truncated mid-paragraph.
func splitByParagraphs(doc *Document, sec *section, counter token.Counter, maxTokens int) []*Chunk {
	text := doc.Text[sec.start:sec.end]
	paragraphs := strings.Split(text, "\n\n")

	var chunks []*Chunk
	var buf strings.Builder
	bufStart := sec.start
	offset := sec.start

	flush := func(end int) {
		content := buf.String()
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, newChunk(doc, sec.headerPath, bufStart, end, content, counter.Count(content)))
		}
		buf.Reset()
	}

	for _, para := range paragraphs {
		paraLen := len(para) + 2 // account for the split "\n\n"
		candidate := buf.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += para

		if buf.Len() > 0 && counter.Count(candidate) > maxTokens {
			flush(offset)
			bufStart = offset
			buf.WriteString(para)
		} else {
			if buf.Len() > 0 {
				buf.WriteString("\n\n")
			}
			buf.WriteString(para)
		}
		offset += paraLen
		if offset > sec.end {
			offset = sec.end
		}
	}
	flush(sec.end)

	return chunks
}

func newChunk(doc *Document, headerPath string, start, end int, text string, tokens int) *Chunk {
	return &Chunk{
		ID:         ChunkID(doc.ID, text),
		DocumentID: doc.ID,
		HeaderPath: headerPath,
		Start:      start,
		End:        end,
		Text:       text,
		TokenCount: tokens,
	}
}
