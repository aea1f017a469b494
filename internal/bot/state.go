package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storebot/pkg/redis"
)

const (
	StepProductSelected = "product_selected"
	StepName            = "name"
	StepPhone           = "phone"
	StepCityBranch      = "city_branch"
	StepConfirmation    = "confirmation"
)

// OrderSession is the per-chat checkout state. AnchorMessageID points at the
// single card message edited through the whole flow; PromptMessageIDs tracks
// transient re-prompt messages removed when the step advances.
type OrderSession struct {
	Step             string `json:"step"`
	AnchorMessageID  int    `json:"anchor_message_id"`
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	ProductPrice     string `json:"product_price"`
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	City             string `json:"city"`
	Branch           string `json:"branch"`
	Delivery         string `json:"delivery"`
	PromptMessageIDs []int  `json:"prompt_message_ids,omitempty"`
}

type SessionStore interface {
	Get(ctx context.Context, chatID int64) (OrderSession, bool, error)
	Save(ctx context.Context, chatID int64, session OrderSession) error
	Clear(ctx context.Context, chatID int64) error
}

// RedisSessionStore keeps one JSON session blob per chat with the client's
// default TTL, so abandoned checkouts expire on their own.
type RedisSessionStore struct {
	redis *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{redis: client}
}

func (s *RedisSessionStore) Get(ctx context.Context, chatID int64) (OrderSession, bool, error) {
	data, err := s.redis.Get(ctx, sessionKey(chatID))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return OrderSession{}, false, nil
		}
		return OrderSession{}, false, fmt.Errorf("failed to get session: %w", err)
	}

	var session OrderSession
	if err := json.Unmarshal(data, &session); err != nil {
		return OrderSession{}, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, true, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, chatID int64, session OrderSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKey(chatID), data); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Clear(ctx context.Context, chatID int64) error {
	if err := s.redis.Del(ctx, sessionKey(chatID)); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func sessionKey(chatID int64) string {
	return fmt.Sprintf("order:%d", chatID)
}
