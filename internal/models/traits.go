package models

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// TokenTrait is one metadata attribute of a token, annotated with the
// rarity numbers of its matching collection attribute after a rarity run.
// Value stays untyped because upstream metadata mixes strings and numbers.
type TokenTrait struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`

	Count            int64   `json:"count,omitempty"`
	RarityPercent    float64 `json:"rarityPercent,omitempty"`
	RarityFractional float64 `json:"rarityFractional,omitempty"`
	RarityScore      float64 `json:"rarityScore,omitempty"`
	RarityRank       int     `json:"rarityRank,omitempty"`
}

// TraitAttribute is one distinct value of a trait type across a
// collection. ID is a synthetic insertion identity used for rank
// tie-breaking; two attributes with equal raw values in different trait
// types never share an ID.
type TraitAttribute struct {
	ID               int     `json:"id"`
	Value            any     `json:"value"`
	Count            int64   `json:"count"`
	RarityPercent    float64 `json:"rarityPercent"`
	RarityFractional float64 `json:"rarityFractional"`
	RarityScore      float64 `json:"rarityScore"`
	RarityRank       int     `json:"rarityRank"`
}

// CollectionTrait buckets every attribute seen for one trait type,
// tracking numeric min/max when values are numbers.
type CollectionTrait struct {
	Type       string           `json:"type"`
	Attributes []TraitAttribute `json:"attributes"`
	Min        *float64         `json:"min,omitempty"`
	Max        *float64         `json:"max,omitempty"`
}

func UnmarshalTokenTraits(raw datatypes.JSON) ([]TokenTrait, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var traits []TokenTrait
	if err := json.Unmarshal(raw, &traits); err != nil {
		return nil, err
	}
	return traits, nil
}

func MarshalJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
