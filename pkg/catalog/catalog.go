// Package catalog holds the read-only frame catalog and the recommendation
// ordering used by the shopping flow.
package catalog

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when a frame ID is not in the catalog.
var ErrNotFound = errors.New("catalog: frame not found")

// FrameSelection is a frame the user picked. It is passed by value and
// never mutated once handed to a try-on session.
type FrameSelection struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Price       int      `json:"price"` // RM, whole ringgit
	Image       string   `json:"image"`
	Description string   `json:"description"`
	Style       []string `json:"style"`
	Match       int      `json:"match"` // 0-100
	Features    []string `json:"features"`
}

// StyleLine returns the style tags joined for display.
func (f FrameSelection) StyleLine() string {
	return strings.Join(f.Style, ", ")
}

// HasStyle reports whether the frame carries the tag (case-insensitive).
func (f FrameSelection) HasStyle(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, s := range f.Style {
		if s == tag {
			return true
		}
	}
	return false
}

// Catalog is an immutable set of frames.
type Catalog struct {
	frames []FrameSelection
	byID   map[int]int
}

// New builds a catalog from frames. Later duplicates of an ID are ignored.
func New(frames []FrameSelection) *Catalog {
	c := &Catalog{
		frames: make([]FrameSelection, 0, len(frames)),
		byID:   make(map[int]int, len(frames)),
	}
	for _, f := range frames {
		if _, dup := c.byID[f.ID]; dup {
			continue
		}
		c.byID[f.ID] = len(c.frames)
		c.frames = append(c.frames, f)
	}
	return c
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(mockFrames)
}

// All returns a copy of every frame in catalog order.
func (c *Catalog) All() []FrameSelection {
	out := make([]FrameSelection, len(c.frames))
	copy(out, c.frames)
	return out
}

// Len returns the number of frames.
func (c *Catalog) Len() int {
	return len(c.frames)
}

// Find looks a frame up by ID.
func (c *Catalog) Find(id int) (FrameSelection, error) {
	i, ok := c.byID[id]
	if !ok {
		return FrameSelection{}, ErrNotFound
	}
	return c.frames[i], nil
}

// Recommend returns frames ordered by match score, highest first. Frames
// carrying the preferred style are ranked ahead of those that do not;
// "surprise me" and an empty style disable the style preference.
func (c *Catalog) Recommend(style string) []FrameSelection {
	out := c.All()
	style = strings.ToLower(strings.TrimSpace(style))
	useStyle := style != "" && style != "surprise me"

	sort.SliceStable(out, func(i, j int) bool {
		if useStyle {
			si, sj := out[i].HasStyle(style), out[j].HasStyle(style)
			if si != sj {
				return si
			}
		}
		return out[i].Match > out[j].Match
	})
	return out
}
