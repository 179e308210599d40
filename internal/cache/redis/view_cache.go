package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// ViewCache stores the last view per owner and chain as JSON with a TTL.
type ViewCache struct {
	c       *Client
	chainID uint64
	ttl     time.Duration
}

// NewViewCache creates a ViewCache for views of chainID.
func NewViewCache(c *Client, chainID uint64, ttl time.Duration) *ViewCache {
	return &ViewCache{c: c, chainID: chainID, ttl: ttl}
}

func (vc *ViewCache) key(owner common.Address) string {
	return vc.c.Key("view", fmt.Sprint(vc.chainID), strings.ToLower(owner.Hex()))
}

// Save writes v. Views for another chain are ignored.
func (vc *ViewCache) Save(ctx context.Context, v *domain.View) error {
	if v.ChainID != vc.chainID {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal view: %w", err)
	}
	if err := vc.c.rdb.Set(ctx, vc.key(v.Owner), data, vc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save view %s: %w", v.Owner.Hex(), err)
	}
	return nil
}

// Load returns the cached view for owner or domain.ErrNotFound.
func (vc *ViewCache) Load(ctx context.Context, owner common.Address) (*domain.View, error) {
	data, err := vc.c.rdb.Get(ctx, vc.key(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load view %s: %w", owner.Hex(), err)
	}
	var v domain.View
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("redis: decode view %s: %w", owner.Hex(), err)
	}
	return &v, nil
}

// Delete drops the cached view for owner.
func (vc *ViewCache) Delete(ctx context.Context, owner common.Address) error {
	if err := vc.c.rdb.Del(ctx, vc.key(owner)).Err(); err != nil {
		return fmt.Errorf("redis: delete view %s: %w", owner.Hex(), err)
	}
	return nil
}

var _ domain.ViewCache = (*ViewCache)(nil)
