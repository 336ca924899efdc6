package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/larriantoniy/tg_promo_bot/internal/domain"
	"github.com/larriantoniy/tg_promo_bot/internal/ports"
)

const (
	fieldCredential = "credential"
	fieldName       = "name"
	fieldPromotion  = "promotion"
	fieldSession    = "session"
	fieldStatus     = "status"
)

// Store хранит каждый аккаунт в хеше <prefix>account:<id>, а список id
// в множестве <prefix>accounts.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

var _ ports.AccountStore = (*Store)(nil)

func (s *Store) accountKey(id string) string { return s.prefix + "account:" + id }
func (s *Store) indexKey() string            { return s.prefix + "accounts" }

func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	vals, err := s.rdb.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", accountID, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrAccountNotFound, accountID)
	}

	acc := &domain.Account{
		Name:    vals[fieldName],
		Session: domain.SessionToken(vals[fieldSession]),
		Status:  domain.AccountStatus(vals[fieldStatus]),
	}
	if err := json.Unmarshal([]byte(vals[fieldCredential]), &acc.Credential); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", accountID, err)
	}
	if raw, ok := vals[fieldPromotion]; ok && raw != "" {
		var promo domain.PromotionConfig
		if err := json.Unmarshal([]byte(raw), &promo); err != nil {
			return nil, fmt.Errorf("decode promotion %s: %w", accountID, err)
		}
		acc.Promotion = &promo
	}
	return acc, nil
}

func (s *Store) SaveAccount(ctx context.Context, acc *domain.Account) error {
	id := acc.ID()
	if id == "" {
		return errors.New("save account: empty account id")
	}

	cred, err := json.Marshal(acc.Credential)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	fields := map[string]any{
		fieldCredential: cred,
		fieldName:       acc.Name,
		fieldSession:    string(acc.Session),
		fieldStatus:     string(acc.Status),
	}
	if acc.Promotion != nil {
		promo, err := json.Marshal(acc.Promotion)
		if err != nil {
			return fmt.Errorf("encode promotion: %w", err)
		}
		fields[fieldPromotion] = promo
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.accountKey(id))
		pipe.HSet(ctx, s.accountKey(id), fields)
		pipe.SAdd(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", id, err)
	}
	return nil
}

func (s *Store) SaveSessionToken(ctx context.Context, accountID string, token domain.SessionToken) error {
	return s.setField(ctx, accountID, fieldSession, string(token))
}

func (s *Store) SetStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	return s.setField(ctx, accountID, fieldStatus, string(status))
}

// setFieldScript пишет поле только в существующий хеш, иначе удалённый
// аккаунт воскрес бы с одним полем.
var setFieldScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// setField обновляет одно поле только у существующего аккаунта.
func (s *Store) setField(ctx context.Context, accountID, field, value string) error {
	updated, err := setFieldScript.Run(ctx, s.rdb, []string{s.accountKey(accountID)}, field, value).Int()
	if err != nil {
		return fmt.Errorf("redis hset %s.%s: %w", accountID, field, err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ports.ErrAccountNotFound, accountID)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.accountKey(accountID))
		pipe.SRem(ctx, s.indexKey(), accountID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", accountID, err)
	}
	return nil
}
