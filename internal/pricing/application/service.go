package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	pricing "autovolt-cloud/internal/pricing/domain"

	"github.com/google/uuid"
)

// Service resolves prices and manages cost versions.
type Service struct {
	repo         pricing.CostVersionRepository
	defaultPrice float64
	currency     string
	logger       *log.Logger
}

// Option configures the service.
type Option func(*Service)

// WithDefaultPrice sets the fallback price used when no version matches.
func WithDefaultPrice(costPerKWh float64, currency string) Option {
	return func(s *Service) {
		if costPerKWh > 0 {
			s.defaultPrice = costPerKWh
		}
		if currency != "" {
			s.currency = currency
		}
	}
}

// NewService constructs the pricing service.
func NewService(repo pricing.CostVersionRepository, logger *log.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("pricing service: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		repo:         repo,
		defaultPrice: 7.5,
		currency:     "INR",
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultQuote is the configured fallback price with no version id.
func (s *Service) DefaultQuote() pricing.PriceQuote {
	return pricing.PriceQuote{CostPerKWh: s.defaultPrice, Currency: s.currency}
}

// Resolve returns the price applying at ts for the classroom. A
// classroom-scoped version wins over a global one; the configured default
// backs both. On a repository failure the default quote is returned together
// with the error so callers can price and account for the fallback.
func (s *Service) Resolve(ctx context.Context, classroom string, ts time.Time) (pricing.PriceQuote, error) {
	if classroom != "" {
		version, err := s.repo.FindActive(ctx, pricing.ScopeClassroom, classroom, ts)
		if err != nil {
			return s.DefaultQuote(), fmt.Errorf("pricing resolve: %w", err)
		}
		if version != nil {
			return quoteOf(version), nil
		}
	}
	version, err := s.repo.FindActive(ctx, pricing.ScopeGlobal, "", ts)
	if err != nil {
		return s.DefaultQuote(), fmt.Errorf("pricing resolve: %w", err)
	}
	if version != nil {
		return quoteOf(version), nil
	}
	return s.DefaultQuote(), nil
}

// CreateVersionInput captures an admin request to start a new price span.
type CreateVersionInput struct {
	Scope         pricing.Scope
	Classroom     string
	CostPerKWh    float64
	Currency      string
	EffectiveFrom time.Time
	Notes         string
	CreatedBy     string
}

// CreateVersion validates and persists a new version, closing the open one.
func (s *Service) CreateVersion(ctx context.Context, input CreateVersionInput) (*pricing.CostVersion, error) {
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	version := &pricing.CostVersion{
		ID:            uuid.NewString(),
		Scope:         input.Scope,
		Classroom:     input.Classroom,
		CostPerKWh:    input.CostPerKWh,
		Currency:      currency,
		EffectiveFrom: input.EffectiveFrom.UTC(),
		Notes:         input.Notes,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     time.Now().UTC(),
	}
	if err := version.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, version); err != nil {
		return nil, err
	}
	s.logger.Printf("event=cost_version_created version_id=%s scope=%s classroom=%s cost_per_kwh=%.4f effective_from=%s",
		version.ID, version.Scope, version.Classroom, version.CostPerKWh, version.EffectiveFrom.Format(time.RFC3339))
	return version, nil
}

// ListVersions returns versions for the admin surface.
func (s *Service) ListVersions(ctx context.Context, classroom string) ([]pricing.CostVersion, error) {
	return s.repo.List(ctx, classroom)
}

func quoteOf(version *pricing.CostVersion) pricing.PriceQuote {
	return pricing.PriceQuote{
		CostPerKWh: version.CostPerKWh,
		Currency:   version.Currency,
		VersionID:  version.ID,
	}
}
