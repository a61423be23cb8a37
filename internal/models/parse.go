package models

import (
	"fmt"
	"sort"
)

// DocumentKey identifies a document and every artifact derived from it.
type DocumentKey struct {
	Folder   string
	Filename string
}

func (k DocumentKey) String() string {
	return fmt.Sprintf("%s/%s", k.Folder, k.Filename)
}

// Box is a bounding box normalized to [0,1] against its page.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

type Grounding struct {
	Page int  `json:"page"`
	Box  *Box `json:"box,omitempty"`
}

// Known chunk types. The set is open; unknown types are kept as-is.
const (
	ChunkTypeText  = "text"
	ChunkTypeTable = "table"
	ChunkTypeImage = "image"
)

type Chunk struct {
	ID        string     `json:"id"`
	Type      string     `json:"type,omitempty"`
	Markdown  string     `json:"markdown"`
	Grounding *Grounding `json:"grounding,omitempty"`
	// PageNumber is the legacy page field, kept for artifacts written before grounding existed.
	PageNumber *int `json:"page_number,omitempty"`
}

// Page returns the zero-based page of the chunk, preferring grounding over the legacy field.
func (c Chunk) Page() (int, bool) {
	if c.Grounding != nil {
		return c.Grounding.Page, true
	}
	if c.PageNumber != nil {
		return *c.PageNumber, true
	}
	return 0, false
}

// ParseArtifact is the cached output of a parse. It is written whole and never edited.
type ParseArtifact struct {
	Markdown string  `json:"markdown"`
	Chunks   []Chunk `json:"chunks"`
}

// Pages returns the sorted distinct page indexes referenced by chunks, or [0] when none are.
func (p *ParseArtifact) Pages() []int {
	seen := make(map[int]struct{})
	for _, c := range p.Chunks {
		if page, ok := c.Page(); ok {
			seen[page] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return []int{0}
	}

	pages := make([]int, 0, len(seen))
	for page := range seen {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

func (p *ParseArtifact) PagesCount() int {
	return len(p.Pages())
}

func (p *ParseArtifact) ChunkTypes() map[string]int {
	counts := make(map[string]int)
	for _, c := range p.Chunks {
		t := c.Type
		if t == "" {
			t = "unknown"
		}
		counts[t]++
	}
	return counts
}

func (p *ParseArtifact) HasMarkdown() bool {
	return p.Markdown != ""
}

type ParseResponse struct {
	Message     string         `json:"message"`
	Filename    string         `json:"filename"`
	ChunksCount int            `json:"chunks_count"`
	PagesCount  int            `json:"pages_count"`
	Pages       []int          `json:"pages"`
	HasMarkdown bool           `json:"has_markdown"`
	ChunkTypes  map[string]int `json:"chunk_types"`
	UsedCache   bool           `json:"used_cache"`
}

// Summary builds the parse response for an artifact.
func (p *ParseArtifact) Summary(filename string, usedCache bool) *ParseResponse {
	msg := "Document parsed successfully"
	if usedCache {
		msg = "Document already parsed (using cache)"
	}
	return &ParseResponse{
		Message:     msg,
		Filename:    filename,
		ChunksCount: len(p.Chunks),
		PagesCount:  p.PagesCount(),
		Pages:       p.Pages(),
		HasMarkdown: p.HasMarkdown(),
		ChunkTypes:  p.ChunkTypes(),
		UsedCache:   usedCache,
	}
}

type MetadataResponse struct {
	Filename    string         `json:"filename"`
	Chunks      []Chunk        `json:"chunks"`
	ChunksCount int            `json:"chunks_count"`
	PagesCount  int            `json:"pages_count"`
	Pages       []int          `json:"pages"`
	ChunkTypes  map[string]int `json:"chunk_types"`
	HasMarkdown bool           `json:"has_markdown"`
}

func (p *ParseArtifact) Metadata(filename string) *MetadataResponse {
	chunks := p.Chunks
	if chunks == nil {
		chunks = []Chunk{}
	}
	return &MetadataResponse{
		Filename:    filename,
		Chunks:      chunks,
		ChunksCount: len(chunks),
		PagesCount:  p.PagesCount(),
		Pages:       p.Pages(),
		ChunkTypes:  p.ChunkTypes(),
		HasMarkdown: p.HasMarkdown(),
	}
}
