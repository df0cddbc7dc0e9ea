package algorithm

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
)

// Service validates configurations before persisting them and keeps a
// process-wide cache of loaded algorithms. The cache is invalidated on every
// write; readers always see a validated config.
type Service struct {
	repo   Repository
	inTx   db.TxRunner
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Algorithm
}

func NewService(repo Repository, inTx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		inTx:   inTx,
		logger: logger,
		cache:  map[string]*Algorithm{},
	}
}

// cacheKeyDefault is the cache slot for the unlabeled default lookup.
const cacheKeyDefault = "\x00default"

func (s *Service) invalidate() {
	s.mu.Lock()
	s.cache = map[string]*Algorithm{}
	s.mu.Unlock()
}

func (s *Service) cached(key string) (*Algorithm, bool) {
	s.mu.RLock()
	a, ok := s.cache[key]
	s.mu.RUnlock()
	return a, ok
}

func (s *Service) store(key string, a *Algorithm) {
	s.mu.Lock()
	s.cache[key] = a
	s.mu.Unlock()
}

func (s *Service) List(ctx context.Context) ([]*Algorithm, error) {
	return s.repo.List(ctx)
}

// Get resolves an algorithm by label, or the default when label is empty.
func (s *Service) Get(ctx context.Context, label string) (*Algorithm, error) {
	key := label
	if label == "" {
		key = cacheKeyDefault
	}
	if a, ok := s.cached(key); ok {
		return a, nil
	}
	var (
		a   *Algorithm
		err error
	)
	if label == "" {
		a, err = s.repo.GetDefault(ctx)
	} else {
		a, err = s.repo.GetByLabel(ctx, label)
	}
	if err != nil {
		return nil, err
	}
	s.store(key, a)
	return a, nil
}

// Create validates and inserts a new configuration. Setting is_default
// demotes the previous default in the same transaction.
func (s *Service) Create(ctx context.Context, a *Algorithm) error {
	if err := a.Validate(); err != nil {
		return err
	}
	err := s.inTx(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		if a.IsDefault {
			if err := s.repo.ClearDefault(ctx); err != nil {
				return err
			}
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info().Str("label", a.Label).Bool("default", a.IsDefault).Msg("algorithm created")
	return nil
}

// Update validates and replaces the stored configuration in full.
func (s *Service) Update(ctx context.Context, a *Algorithm) error {
	if err := a.Validate(); err != nil {
		return err
	}
	err := s.inTx(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		if a.IsDefault {
			if err := s.repo.ClearDefault(ctx); err != nil {
				return err
			}
		}
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info().Str("label", a.Label).Msg("algorithm updated")
	return nil
}

func (s *Service) Delete(ctx context.Context, label string) error {
	if err := s.repo.Delete(ctx, label); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info().Str("label", label).Msg("algorithm deleted")
	return nil
}
