// Package fusion merges retriever candidate lists into one ranking.
//
// Scores are normalised to [0, 1] against fixed ranges, so a bookmark's
// fused score depends only on its own matches and never on which other
// bookmarks happened to be candidates. The final order is total: score
// descending, then creation time descending, then id ascending.
package fusion

import (
	"fmt"
	"sort"
	"time"

	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/internal/retriever"
)

// Weights is the contribution of each source to the fused score
type Weights struct {
	Tag     float64 `json:"tag"`
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
}

// DefaultWeights returns the default fusion policy
func DefaultWeights() Weights {
	return Weights{Tag: 0.5, Lexical: 0.25, Vector: 0.25}
}

// Of returns the weight of a source
func (w Weights) Of(s retriever.Source) float64 {
	switch s {
	case retriever.SourceTag:
		return w.Tag
	case retriever.SourceLexical:
		return w.Lexical
	case retriever.SourceVector:
		return w.Vector
	}
	return 0
}

// Validate checks that weights are non-negative with a positive sum
func (w Weights) Validate() error {
	if w.Tag < 0 || w.Lexical < 0 || w.Vector < 0 {
		return fmt.Errorf("fusion weights must be non-negative: %+v", w)
	}
	if w.Tag+w.Lexical+w.Vector <= 0 {
		return fmt.Errorf("fusion weights must have a positive sum: %+v", w)
	}
	return nil
}

// Ranked is one fused result
type Ranked struct {
	BookmarkID int64
	Score      float64
	CreatedAt  time.Time
	Sources    []retriever.Source // Sources that matched, in fusion order
	Explain    []string
}

// Normalize maps a raw retriever score into [0, 1]. Lexical scores reach
// at most 1+domainBonus; cosine similarity is clamped at zero.
func Normalize(s retriever.Source, score, domainBonus float64) float64 {
	if s == retriever.SourceLexical && domainBonus > 0 {
		score /= 1 + domainBonus
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Fuse merges the candidate lists of the active sources. A source is active
// when it has an entry in lists, even an empty one; a bookmark missing from
// an active source contributes zero for it. In TagOnly mode a bookmark must
// appear in the tag list.
func Fuse(mode plan.Mode, lists map[retriever.Source][]retriever.Candidate, weights Weights, domainBonus float64) []Ranked {
	active := make([]retriever.Source, 0, len(retriever.Sources))
	totalWeight := 0.0
	for _, s := range retriever.Sources {
		if _, ok := lists[s]; ok {
			active = append(active, s)
			totalWeight += weights.Of(s)
		}
	}
	if len(active) == 0 {
		return []Ranked{}
	}

	// With no weight on any active source every source counts equally
	weightOf := weights.Of
	if totalWeight <= 0 {
		weightOf = func(retriever.Source) float64 { return 1 }
		totalWeight = float64(len(active))
	}

	type acc struct {
		ranked Ranked
		norm   map[retriever.Source]float64
	}
	byID := make(map[int64]*acc)
	order := make([]int64, 0)

	for _, s := range active {
		for _, c := range lists[s] {
			a, ok := byID[c.BookmarkID]
			if !ok {
				a = &acc{
					ranked: Ranked{BookmarkID: c.BookmarkID, CreatedAt: c.CreatedAt},
					norm:   make(map[retriever.Source]float64, len(active)),
				}
				byID[c.BookmarkID] = a
				order = append(order, c.BookmarkID)
			}
			n := Normalize(s, c.Score, domainBonus)
			// A source listing a bookmark twice keeps its best score
			if prev, seen := a.norm[s]; seen {
				if n > prev {
					a.norm[s] = n
				}
				continue
			}
			a.norm[s] = n
			a.ranked.Sources = append(a.ranked.Sources, s)
			if c.Explain != "" {
				a.ranked.Explain = append(a.ranked.Explain, string(s)+": "+c.Explain)
			}
		}
	}

	ranked := make([]Ranked, 0, len(byID))
	for _, id := range order {
		a := byID[id]
		if mode == plan.ModeTagOnly {
			if _, ok := a.norm[retriever.SourceTag]; !ok {
				continue
			}
		}
		// Sum in fixed source order so floating point results are reproducible
		sum := 0.0
		for _, s := range active {
			sum += weightOf(s) * a.norm[s]
		}
		a.ranked.Score = sum / totalWeight
		ranked = append(ranked, a.ranked)
	}

	sortRanked(ranked)
	return ranked
}

// sortRanked orders results by score descending, then newest first, then id
func sortRanked(ranked []Ranked) {
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.BookmarkID < b.BookmarkID
	})
}

// Page returns ranked[offset:offset+limit]. next is the offset of the
// following page and more reports whether one exists.
func Page(ranked []Ranked, offset, limit int) (page []Ranked, next int, more bool) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(ranked) {
		return []Ranked{}, 0, false
	}
	end := offset + limit
	if end >= len(ranked) {
		return ranked[offset:], 0, false
	}
	return ranked[offset:end], end, true
}
