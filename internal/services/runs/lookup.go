package runsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runbeam/runbeam/internal/runstate"
	pebblestore "github.com/runbeam/runbeam/internal/storage/pebble"
)

// ActiveGenerationForConversation resolves the conversation index to whatever
// is (or last was) generating for it: a run-backed or a legacy message-backed
// generation. A conversation with no pointer, or whose pointed-at record has
// expired, yields (nil, nil) — "nothing active" is not an error.
func (s *Service) ActiveGenerationForConversation(ctx context.Context, conversationID string) (runstate.ActiveGeneration, error) {
	raw, err := s.rt.DB().Get(KeyConversation(conversationID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var ptr activePointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return nil, fmt.Errorf("decode active pointer %s: %w", conversationID, err)
	}

	switch ptr.Kind {
	case runstate.KindRun:
		st, err := s.loadState(ptr.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return runstate.RunGeneration{State: st}, nil
	case runstate.KindMessage:
		msg, err := s.loadMessage(ptr.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return runstate.MessageGeneration{State: msg}, nil
	default:
		return nil, fmt.Errorf("unknown generation kind %q for conversation %s", ptr.Kind, conversationID)
	}
}

// ActiveGenerationInfoForConversation shapes the lookup for the HTTP layer.
func (s *Service) ActiveGenerationInfoForConversation(ctx context.Context, conversationID string) (ActiveGenerationInfo, error) {
	gen, err := s.ActiveGenerationForConversation(ctx, conversationID)
	if err != nil || gen == nil {
		return ActiveGenerationInfo{}, err
	}
	return ActiveGenerationInfo{
		Active: gen.Active(),
		Kind:   gen.Kind(),
		ID:     gen.ID(),
		Status: string(gen.GenerationStatus()),
	}, nil
}
