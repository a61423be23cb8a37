// Package grounding maps parsed chunks onto rendered document pages.
// Normalized boxes are the only stored geometry; pixel rectangles are computed per call.
package grounding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
)

var ErrInvalidBox = errors.New("invalid grounding box")

// Rect is a pixel rectangle on a rendered page.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ChunksForPage returns the chunks located on page, in artifact order.
func ChunksForPage(chunks []models.Chunk, page int) []models.Chunk {
	var out []models.Chunk
	for _, c := range chunks {
		if p, ok := c.Page(); ok && p == page {
			out = append(out, c)
		}
	}
	return out
}

// ResolveOverlayBox projects a chunk's normalized box onto a page rendered at width x height.
func ResolveOverlayBox(chunk models.Chunk, width, height float64) (Rect, bool) {
	if chunk.Grounding == nil || chunk.Grounding.Box == nil {
		return Rect{}, false
	}
	b := chunk.Grounding.Box
	return Rect{
		X:      b.Left * width,
		Y:      b.Top * height,
		Width:  (b.Right - b.Left) * width,
		Height: (b.Bottom - b.Top) * height,
	}, true
}

// LocatePageForChunk returns the zero-based page to scroll to for a chunk.
func LocatePageForChunk(chunk models.Chunk) (int, bool) {
	return chunk.Page()
}

type Box struct {
	ChunkID string `json:"chunk_id"`
	Type    string `json:"type"`
	Rect    Rect   `json:"rect"`
}

// Overlay returns the pixel boxes to draw for one rendered page. Chunks without a box are skipped.
func Overlay(chunks []models.Chunk, page int, width, height float64) []Box {
	var boxes []Box
	for _, c := range ChunksForPage(chunks, page) {
		r, ok := ResolveOverlayBox(c, width, height)
		if !ok {
			continue
		}
		boxes = append(boxes, Box{ChunkID: c.ID, Type: c.Type, Rect: r})
	}
	return boxes
}

// Validate checks that a grounding box lies in [0,1] with left<=right and top<=bottom.
func Validate(g *models.Grounding) error {
	if g == nil {
		return nil
	}
	if g.Page < 0 {
		return fmt.Errorf("%w: negative page %d", ErrInvalidBox, g.Page)
	}
	if g.Box == nil {
		return nil
	}
	b := g.Box
	for _, v := range []float64{b.Left, b.Top, b.Right, b.Bottom} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: coordinate %v outside [0,1]", ErrInvalidBox, v)
		}
	}
	if b.Left > b.Right || b.Top > b.Bottom {
		return fmt.Errorf("%w: (%v,%v,%v,%v) is inverted", ErrInvalidBox, b.Left, b.Top, b.Right, b.Bottom)
	}
	return nil
}

// ValidateChunks checks every chunk of an artifact and returns the first failure.
func ValidateChunks(chunks []models.Chunk) error {
	for _, c := range chunks {
		if err := Validate(c.Grounding); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// Selection holds at most one selected chunk.
type Selection struct {
	mu sync.Mutex
	id string
}

// Select makes id the selected chunk, replacing any previous selection.
// It reports whether the selection changed.
func (s *Selection) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == id {
		return false
	}
	s.id = id
	return true
}

func (s *Selection) Clear() {
	s.mu.Lock()
	s.id = ""
	s.mu.Unlock()
}

// Selected returns the selected chunk id, or "" and false when nothing is selected.
func (s *Selection) Selected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != ""
}
