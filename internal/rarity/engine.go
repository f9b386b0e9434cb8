// Package rarity computes per-collection trait rarity and per-token
// rarity ranks. The computation is pure: callers load tokens, run
// Compute, and persist the result.
package rarity

import (
	"fmt"
	"sort"

	"github.com/micohasanen/hexagon-api/internal/models"
)

type TokenInput struct {
	TokenID uint64
	Traits  []models.TokenTrait
}

type TokenResult struct {
	TokenID uint64
	Traits  []models.TokenTrait
	Rarity  float64
	Rank    int
}

type Result struct {
	Traits  []models.CollectionTrait
	Tokens  []TokenResult
	Highest float64
	Lowest  float64

	// Skipped counts token attributes with no matching entry in the
	// computed trait table (metadata changed mid-run). The caller
	// re-queues the collection when Skipped > 0.
	Skipped int
}

type attribute struct {
	id    int
	value any
	count int64
}

type bucket struct {
	traitType string
	order     []string
	attrs     map[string]*attribute
	min, max  *float64
}

// Compute runs the two-pass rarity algorithm: accumulate attribute counts
// across all tokens, derive percent/score/rank per attribute, then re-walk
// tokens summing scores and ranking the collection.
//
// Trait types listed in exclude still appear in the trait table for
// display but contribute nothing to token scores. Attribute rank ties are
// broken by insertion identity, never by value equality.
func Compute(tokens []TokenInput, exclude []string) Result {
	excluded := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		excluded[t] = struct{}{}
	}

	var res Result
	total := len(tokens)
	if total == 0 {
		return res
	}

	// Pass 1: accumulate counts per (trait_type, value).
	nextID := 0
	var typeOrder []string
	buckets := make(map[string]*bucket)
	for _, tok := range tokens {
		for _, tr := range tok.Traits {
			b := buckets[tr.TraitType]
			if b == nil {
				b = &bucket{traitType: tr.TraitType, attrs: make(map[string]*attribute)}
				buckets[tr.TraitType] = b
				typeOrder = append(typeOrder, tr.TraitType)
			}
			key := valueKey(tr.Value)
			attr := b.attrs[key]
			if attr == nil {
				attr = &attribute{id: nextID, value: tr.Value}
				nextID++
				b.attrs[key] = attr
				b.order = append(b.order, key)
			}
			attr.count++
			if n, ok := numeric(tr.Value); ok {
				if b.min == nil || n < *b.min {
					v := n
					b.min = &v
				}
				if b.max == nil || n > *b.max {
					v := n
					b.max = &v
				}
			}
		}
	}

	// Derive percent/score and rank attributes within each trait type.
	type scored struct {
		attr *models.TraitAttribute
		id   int
	}
	scoresByAttrID := make(map[int]float64, nextID)
	res.Traits = make([]models.CollectionTrait, 0, len(typeOrder))
	for _, traitType := range typeOrder {
		b := buckets[traitType]
		ct := models.CollectionTrait{Type: traitType, Min: b.min, Max: b.max}
		entries := make([]scored, 0, len(b.order))
		for _, key := range b.order {
			attr := b.attrs[key]
			percent := float64(attr.count) / float64(total) * 100
			fractional := percent / 100
			score := 1 / fractional
			ct.Attributes = append(ct.Attributes, models.TraitAttribute{
				ID:               attr.id,
				Value:            attr.value,
				Count:            attr.count,
				RarityPercent:    percent,
				RarityFractional: fractional,
				RarityScore:      score,
			})
			scoresByAttrID[attr.id] = score
		}
		for i := range ct.Attributes {
			entries = append(entries, scored{attr: &ct.Attributes[i], id: ct.Attributes[i].ID})
		}
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].attr.RarityScore != entries[j].attr.RarityScore {
				return entries[i].attr.RarityScore > entries[j].attr.RarityScore
			}
			return entries[i].id < entries[j].id
		})
		for pos, e := range entries {
			e.attr.RarityRank = pos + 1
		}
		res.Traits = append(res.Traits, ct)
	}

	// Pass 2: sum scores per token and annotate its traits.
	res.Tokens = make([]TokenResult, 0, total)
	for _, tok := range tokens {
		out := TokenResult{TokenID: tok.TokenID}
		for _, tr := range tok.Traits {
			b := buckets[tr.TraitType]
			var match *models.TraitAttribute
			if b != nil {
				if attr := b.attrs[valueKey(tr.Value)]; attr != nil {
					match = findAttribute(res.Traits, tr.TraitType, attr.id)
				}
			}
			if match == nil {
				res.Skipped++
				out.Traits = append(out.Traits, tr)
				continue
			}
			annotated := tr
			annotated.Count = match.Count
			annotated.RarityPercent = match.RarityPercent
			annotated.RarityFractional = match.RarityFractional
			annotated.RarityScore = match.RarityScore
			annotated.RarityRank = match.RarityRank
			out.Traits = append(out.Traits, annotated)
			if _, skip := excluded[tr.TraitType]; !skip {
				out.Rarity += scoresByAttrID[match.ID]
			}
		}
		res.Tokens = append(res.Tokens, out)
	}

	for i, tok := range res.Tokens {
		if i == 0 {
			res.Highest, res.Lowest = tok.Rarity, tok.Rarity
			continue
		}
		if tok.Rarity > res.Highest {
			res.Highest = tok.Rarity
		}
		if tok.Rarity < res.Lowest {
			res.Lowest = tok.Rarity
		}
	}

	// Collection-wide rank: descending total rarity, stable input order
	// on ties.
	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return res.Tokens[idx[i]].Rarity > res.Tokens[idx[j]].Rarity
	})
	for pos, i := range idx {
		res.Tokens[i].Rank = pos + 1
	}

	return res
}

func findAttribute(traits []models.CollectionTrait, traitType string, id int) *models.TraitAttribute {
	for i := range traits {
		if traits[i].Type != traitType {
			continue
		}
		for j := range traits[i].Attributes {
			if traits[i].Attributes[j].ID == id {
				return &traits[i].Attributes[j]
			}
		}
	}
	return nil
}

// valueKey keeps raw-value collisions apart across JSON types: the number
// 0 and the string "0" are distinct attributes.
func valueKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
