package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AccountRegistry implements domain.AccountRegistry with a membership set of
// enrolled addresses plus a hash holding each account's custody key id.
type AccountRegistry struct {
	rdb     *redis.Client
	members string
	details string
}

// NewAccountRegistry creates an AccountRegistry backed by the given Client.
func NewAccountRegistry(c *Client) *AccountRegistry {
	return &AccountRegistry{
		rdb:     c.Underlying(),
		members: c.Key("accounts", "enrolled"),
		details: c.Key("accounts", "details"),
	}
}

// List returns every enrolled account sorted by address. Members without a
// details record are returned with an empty key id.
func (r *AccountRegistry) List(ctx context.Context) ([]domain.Account, error) {
	addrs, err := r.rdb.SMembers(ctx, r.members).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: accounts list: %w", err)
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	sort.Strings(addrs)

	raw, err := r.rdb.HMGet(ctx, r.details, addrs...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: accounts details: %w", err)
	}

	out := make([]domain.Account, 0, len(addrs))
	for i, addr := range addrs {
		acct := domain.Account{Address: addr}
		if s, ok := raw[i].(string); ok {
			if err := json.Unmarshal([]byte(s), &acct); err != nil {
				return nil, fmt.Errorf("redis: accounts decode %s: %w", addr, err)
			}
		}
		out = append(out, acct)
	}
	return out, nil
}

// Get returns a single enrolled account.
func (r *AccountRegistry) Get(ctx context.Context, address string) (domain.Account, error) {
	address = domain.NormalizeAddress(address)
	ok, err := r.rdb.SIsMember(ctx, r.members, address).Result()
	if err != nil {
		return domain.Account{}, fmt.Errorf("redis: accounts get %s: %w", address, err)
	}
	if !ok {
		return domain.Account{}, fmt.Errorf("redis: accounts get %s: %w", address, domain.ErrNotFound)
	}
	acct := domain.Account{Address: address}
	s, err := r.rdb.HGet(ctx, r.details, address).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.Account{}, fmt.Errorf("redis: accounts get %s: %w", address, err)
	}
	if s != "" {
		if err := json.Unmarshal([]byte(s), &acct); err != nil {
			return domain.Account{}, fmt.Errorf("redis: accounts decode %s: %w", address, err)
		}
	}
	return acct, nil
}

// Register enrolls acct, overwriting any previous key id.
func (r *AccountRegistry) Register(ctx context.Context, acct domain.Account) error {
	acct.Address = domain.NormalizeAddress(acct.Address)
	if acct.EnrolledAt.IsZero() {
		acct.EnrolledAt = time.Now().UTC()
	}
	payload, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("redis: accounts register: marshal: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, r.members, acct.Address)
		p.HSet(ctx, r.details, acct.Address, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: accounts register %s: %w", acct.Address, err)
	}
	return nil
}

// Unregister removes the account from the enrolled set.
func (r *AccountRegistry) Unregister(ctx context.Context, address string) error {
	address = domain.NormalizeAddress(address)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, r.members, address)
		p.HDel(ctx, r.details, address)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: accounts unregister %s: %w", address, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AccountRegistry = (*AccountRegistry)(nil)
