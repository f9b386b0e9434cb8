package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/micohasanen/hexagon-api/internal/models"
	"github.com/micohasanen/hexagon-api/internal/queue"
	"github.com/micohasanen/hexagon-api/internal/repository"
)

type TransferInput struct {
	CollectionAddress string `json:"collection"`
	TokenID           uint64 `json:"tokenId"`
	From              string `json:"from"`
	To                string `json:"to"`
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       uint64 `json:"blockNumber"`
	Timestamp         int64  `json:"timestamp"`
}

// TransferService mirrors on-chain transfer events onto tokens: the
// transfer log, the current owner and a rarity refresh for the
// collection. Events are consumed through the queue and deduplicated by
// transaction hash, so chain-listener replays are harmless.
type TransferService struct {
	Repo   repository.Repository
	Queue  queue.Queue
	Rarity *RarityService
	Logger *zap.Logger
}

// Record defers a transfer event to the queue, keyed by transaction
// hash.
func (s *TransferService) Record(ctx context.Context, in TransferInput) error {
	if s == nil || s.Queue == nil {
		return nil
	}
	collection, err := NormalizeAddress(in.CollectionAddress)
	if err != nil {
		return err
	}
	in.CollectionAddress = collection
	if in.From != "" {
		if in.From, err = NormalizeAddress(in.From); err != nil {
			return err
		}
	}
	if in.To, err = NormalizeAddress(in.To); err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, queue.QueueTransfers, queue.Job{
		Key:     in.TransactionHash,
		Payload: payload,
	})
}

// HandleTransfer applies one transfer event. A token row is created on
// first sight so transfers observed before metadata ingestion still
// land.
func (s *TransferService) HandleTransfer(ctx context.Context, payload []byte) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	var in TransferInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return err
	}

	token, err := s.Repo.GetToken(ctx, in.CollectionAddress, in.TokenID)
	if err != nil {
		return err
	}
	if token == nil {
		token = &models.Token{
			CollectionAddress: in.CollectionAddress,
			TokenID:           in.TokenID,
		}
	}

	var transfers []models.TokenTransfer
	if len(token.Transfers) > 0 {
		if err := json.Unmarshal(token.Transfers, &transfers); err != nil {
			return err
		}
	}
	for i := range transfers {
		if transfers[i].TransactionHash == in.TransactionHash {
			return nil
		}
	}
	transfers = append(transfers, models.TokenTransfer{
		From:            in.From,
		To:              in.To,
		TransactionHash: in.TransactionHash,
		BlockNumber:     in.BlockNumber,
		Timestamp:       in.Timestamp,
	})
	raw, err := models.MarshalJSON(transfers)
	if err != nil {
		return err
	}
	token.Transfers = raw
	token.Owner = in.To
	if err := s.Repo.SaveToken(ctx, token); err != nil {
		return err
	}

	if s.Logger != nil {
		s.Logger.Debug("transfer recorded",
			zap.String("collection", in.CollectionAddress),
			zap.Uint64("token", in.TokenID),
			zap.String("to", in.To),
		)
	}
	if s.Rarity != nil {
		return s.Rarity.Generate(ctx, in.CollectionAddress)
	}
	return nil
}
