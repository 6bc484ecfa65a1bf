package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldrebalancer/internal/cooldown"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// CooldownReader exposes per-account rate-limit state.
type CooldownReader interface {
	State(ctx context.Context, account string) (cooldown.State, error)
}

// AccountView is an enrolled account with its rate-limit state.
type AccountView struct {
	domain.Account
	cooldown.State
}

// AccountService manages enrolment in the account registry.
type AccountService struct {
	registry domain.AccountRegistry
	cooldown CooldownReader
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewAccountService creates an AccountService. bus and audit may be nil.
func NewAccountService(
	registry domain.AccountRegistry,
	cd CooldownReader,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		registry: registry,
		cooldown: cd,
		bus:      bus,
		audit:    audit,
		logger:   logger.With(slog.String("component", "account_service")),
		now:      time.Now,
	}
}

// Register enrols address, signing through keyID. Re-registering updates
// the key.
func (s *AccountService) Register(ctx context.Context, address, keyID string) (domain.Account, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return domain.Account{}, fmt.Errorf("account_service: %w: %q", domain.ErrInvalidAddress, address)
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return domain.Account{}, errors.New("account_service: key_id is required")
	}

	acct := domain.Account{
		Address:    domain.NormalizeAddress(address),
		KeyID:      keyID,
		EnrolledAt: s.now().UTC(),
	}
	if err := s.registry.Register(ctx, acct); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: register: %w", err)
	}

	s.logger.InfoContext(ctx, "account registered", slog.String("account", acct.Address))
	s.record(ctx, "account.registered", acct.Address)
	return acct, nil
}

// Unregister removes address from the registry.
func (s *AccountService) Unregister(ctx context.Context, address string) error {
	address = domain.NormalizeAddress(address)
	if err := s.registry.Unregister(ctx, address); err != nil {
		return fmt.Errorf("account_service: unregister: %w", err)
	}
	s.logger.InfoContext(ctx, "account unregistered", slog.String("account", address))
	s.record(ctx, "account.unregistered", address)
	return nil
}

// List returns every enrolled account with its last move and today's count.
func (s *AccountService) List(ctx context.Context) ([]AccountView, error) {
	accounts, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("account_service: list: %w", err)
	}
	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		st, err := s.cooldown.State(ctx, a.Address)
		if err != nil {
			return nil, fmt.Errorf("account_service: %w", err)
		}
		views = append(views, AccountView{Account: a, State: st})
	}
	return views, nil
}

func (s *AccountService) record(ctx context.Context, event, address string) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, map[string]any{"account": address}); err != nil {
			s.logger.WarnContext(ctx, "audit failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		payload, _ := json.Marshal(map[string]string{"event": event, "account": address})
		if err := s.bus.Publish(ctx, domain.ChannelAccounts, payload); err != nil {
			s.logger.WarnContext(ctx, "publish failed", slog.String("event", event), slog.String("error", err.Error()))
		}
	}
}
