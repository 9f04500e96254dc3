package webhook

import (
	"context"
	"strings"
	"sync"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	"github.com/meridian-exchange/exchange_service/internal/infrastructure/cache"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
)

const exclusionCacheKey = "master_wallets:addresses"

// MasterWalletStore lists the platform wallets.
type MasterWalletStore interface {
	ListAll(ctx context.Context) ([]entities.MasterWallet, error)
}

// ExclusionSet answers "is this address a platform master wallet" in O(1).
// The normalized set is held in memory and mirrored to redis so replicas
// that have not refreshed yet can still answer. Membership means the event
// is platform self-dealing and must not credit a user account.
type ExclusionSet struct {
	store  MasterWalletStore
	redis  cache.RedisClient
	logger *logger.Logger

	mu        sync.RWMutex
	addresses map[string]struct{}
}

func NewExclusionSet(store MasterWalletStore, redis cache.RedisClient, log *logger.Logger) *ExclusionSet {
	return &ExclusionSet{
		store:     store,
		redis:     redis,
		logger:    log,
		addresses: make(map[string]struct{}),
	}
}

// Refresh reloads the set from storage and mirrors it to redis.
func (s *ExclusionSet) Refresh(ctx context.Context) error {
	wallets, err := s.store.ListAll(ctx)
	if err != nil {
		return err
	}

	addresses := make(map[string]struct{}, len(wallets))
	members := make([]interface{}, 0, len(wallets))
	for _, wallet := range wallets {
		normalized := wallet.NormalizedAddress()
		addresses[normalized] = struct{}{}
		members = append(members, normalized)
	}

	s.mu.Lock()
	s.addresses = addresses
	s.mu.Unlock()

	if s.redis != nil && len(members) > 0 {
		if err := s.redis.SAdd(ctx, exclusionCacheKey, members...); err != nil {
			s.logger.Warn("Failed to mirror master wallet set to redis", "error", err)
		}
	}

	s.logger.Debug("Master wallet exclusion set refreshed", "size", len(addresses))
	return nil
}

// Contains reports whether the address belongs to a master wallet.
func (s *ExclusionSet) Contains(ctx context.Context, address string) bool {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if normalized == "" {
		return false
	}

	s.mu.RLock()
	_, ok := s.addresses[normalized]
	s.mu.RUnlock()
	if ok {
		return true
	}

	if s.redis != nil {
		if member, err := s.redis.SIsMember(ctx, exclusionCacheKey, normalized); err == nil && member {
			return true
		}
	}
	return false
}
