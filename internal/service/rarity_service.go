package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/queue"
	"github.com/micohasanen/hexagon-api/internal/rarity"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

// RarityService schedules and runs collection-wide rarity generation.
// Requests are debounced through the queue: jobs are keyed by collection
// address, so a mint burst collapses into one run after the debounce
// window.
type RarityService struct {
	Repo     repository.Repository
	Queue    queue.Queue
	Logger   *zap.Logger
	Debounce time.Duration
}

// Generate requests a rarity run for the collection.
func (s *RarityService) Generate(ctx context.Context, collection string) error {
	if s == nil || s.Queue == nil {
		return nil
	}
	collection, err := NormalizeAddress(collection)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(collectionPayload{Collection: collection})
	if err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, queue.QueueRarity, queue.Job{
		Key:     collection,
		Payload: payload,
		Delay:   s.Debounce,
	})
}

// HandleGenerate loads every token of the collection, runs the rarity
// computation and persists the annotated traits, scores and ranks. When
// the run skipped attributes because metadata changed underneath it, the
// collection is re-queued for another pass.
func (s *RarityService) HandleGenerate(ctx context.Context, payload []byte) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	var msg collectionPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}

	coll, err := s.Repo.GetCollection(ctx, msg.Collection)
	if err != nil {
		return err
	}
	if coll == nil {
		return &NotFoundError{Entity: "Collection"}
	}
	var exclude []string
	if len(coll.ExcludeFromRarity) > 0 {
		if err := json.Unmarshal(coll.ExcludeFromRarity, &exclude); err != nil {
			return err
		}
	}

	tokens, err := s.Repo.ListTokensByCollection(ctx, msg.Collection)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	inputs := make([]rarity.TokenInput, 0, len(tokens))
	for i := range tokens {
		traits, err := models.UnmarshalTokenTraits(tokens[i].Traits)
		if err != nil {
			return err
		}
		inputs = append(inputs, rarity.TokenInput{TokenID: tokens[i].TokenID, Traits: traits})
	}

	res := rarity.Compute(inputs, exclude)

	for i := range res.Tokens {
		raw, err := models.MarshalJSON(res.Tokens[i].Traits)
		if err != nil {
			return err
		}
		fields := map[string]any{
			"traits":      raw,
			"rarity":      res.Tokens[i].Rarity,
			"rarity_rank": res.Tokens[i].Rank,
		}
		if err := s.Repo.UpdateTokenFields(ctx, msg.Collection, res.Tokens[i].TokenID, fields); err != nil {
			return err
		}
	}

	traitTable, err := models.MarshalJSON(res.Traits)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdateCollectionFields(ctx, msg.Collection, map[string]any{
		"traits":         traitTable,
		"rarity_highest": res.Highest,
		"rarity_lowest":  res.Lowest,
	}); err != nil {
		return err
	}

	if s.Logger != nil {
		s.Logger.Info("rarity generated",
			zap.String("collection", msg.Collection),
			zap.Int("tokens", len(res.Tokens)),
			zap.Int("skipped", res.Skipped),
		)
	}
	if res.Skipped > 0 {
		return s.Generate(ctx, msg.Collection)
	}
	return nil
}
