// Package catalogfile serves the plan catalog from a YAML file.
//
// It backs development servers and seeds fresh databases. The file format:
//
//	plans:
//	  - tier: standard
//	    name: Standard
//	    base_price: "119.00"
//	    effective_price: "99.50"
//	    rank: 1
//	    limits:
//	      max_offers: 20
//	      max_active_offers: 5
//	      max_team_members: 5
//	      max_coupons_per_month: unlimited
//	    features: [analytics, crm]
//
// Listed features are enabled in the given order. A plan is active and
// visible unless it says otherwise.
package catalogfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/civichub/planengine/pkg/observability"
	"github.com/civichub/planengine/pkg/plans"
)

type fileDTO struct {
	Plans []planDTO `yaml:"plans"`
}

type planDTO struct {
	Tier           string    `yaml:"tier"`
	Name           string    `yaml:"name"`
	BasePrice      string    `yaml:"base_price"`
	EffectivePrice string    `yaml:"effective_price"`
	Rank           int       `yaml:"rank"`
	Version        int       `yaml:"version"`
	Active         *bool     `yaml:"active"`
	Visible        *bool     `yaml:"visible"`
	Limits         limitsDTO `yaml:"limits"`
	Features       []string  `yaml:"features"`
	Disabled       []string  `yaml:"disabled_features"`
}

type limitsDTO struct {
	MaxOffers          string `yaml:"max_offers"`
	MaxActiveOffers    string `yaml:"max_active_offers"`
	MaxTeamMembers     string `yaml:"max_team_members"`
	MaxCouponsPerMonth string `yaml:"max_coupons_per_month"`
}

// Store is an in-memory plans.CatalogStore loaded from a YAML file
type Store struct {
	path   string
	logger *observability.Logger

	mu      sync.RWMutex
	configs []*plans.PlanConfig
}

// Open reads and validates the catalog at path
func Open(path string, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve catalog path: %w", err)
	}
	s := &Store{path: abs, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Parse decodes a catalog document. Every plan is validated.
func Parse(data []byte, loadedAt time.Time) ([]*plans.PlanConfig, error) {
	var doc fileDTO
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	configs := make([]*plans.PlanConfig, 0, len(doc.Plans))
	for i, p := range doc.Plans {
		cfg, err := p.toConfig(int64(i+1), loadedAt)
		if err != nil {
			return nil, fmt.Errorf("plan %d (%s): %w", i+1, p.Tier, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (p planDTO) toConfig(id int64, loadedAt time.Time) (*plans.PlanConfig, error) {
	base, err := parsePrice(p.BasePrice)
	if err != nil {
		return nil, fmt.Errorf("base_price: %w", err)
	}
	effective := base
	if p.EffectivePrice != "" {
		if effective, err = parsePrice(p.EffectivePrice); err != nil {
			return nil, fmt.Errorf("effective_price: %w", err)
		}
	}

	cfg := &plans.PlanConfig{
		ID:             id,
		Tier:           plans.Tier(p.Tier),
		Name:           p.Name,
		BasePrice:      base,
		EffectivePrice: effective,
		FeatureOrder:   append([]string(nil), p.Features...),
		Features:       make(map[string]bool, len(p.Features)+len(p.Disabled)),
		IsActive:       p.Active == nil || *p.Active,
		IsVisible:      p.Visible == nil || *p.Visible,
		Rank:           p.Rank,
		Version:        p.Version,
		CreatedAt:      loadedAt,
		UpdatedAt:      loadedAt,
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	for _, key := range p.Features {
		cfg.Features[key] = true
	}
	for _, key := range p.Disabled {
		if _, ok := cfg.Features[key]; !ok {
			cfg.Features[key] = false
		}
	}

	for _, l := range []struct {
		name string
		raw  string
		dst  *plans.Limit
	}{
		{"max_offers", p.Limits.MaxOffers, &cfg.MaxOffers},
		{"max_active_offers", p.Limits.MaxActiveOffers, &cfg.MaxActiveOffers},
		{"max_team_members", p.Limits.MaxTeamMembers, &cfg.MaxTeamMembers},
		{"max_coupons_per_month", p.Limits.MaxCouponsPerMonth, &cfg.MaxCouponsPerMonth},
	} {
		if *l.dst, err = parseLimit(l.raw); err != nil {
			return nil, fmt.Errorf("%s: %w", l.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// parseLimit treats a missing limit as zero
func parseLimit(raw string) (plans.Limit, error) {
	switch raw {
	case "":
		return 0, nil
	case "unlimited":
		return plans.Unlimited, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return plans.Limit(v), nil
}

// Reload re-reads the file. On error the previously loaded catalog stays in place.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}
	configs, err := Parse(data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", s.path, err)
	}
	if len(configs) == 0 {
		return fmt.Errorf("%s: catalog has no plans", s.path)
	}

	s.mu.Lock()
	s.configs = configs
	s.mu.Unlock()
	s.logger.WithField("path", s.path).WithField("plans", len(configs)).Info("Plan catalog loaded")
	return nil
}

// Plans returns every plan in the file, in file order
func (s *Store) Plans() []*plans.PlanConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*plans.PlanConfig, len(s.configs))
	copy(out, s.configs)
	return out
}

// ListActiveVisible implements plans.CatalogStore
func (s *Store) ListActiveVisible(ctx context.Context) ([]*plans.PlanConfig, error) {
	var out []*plans.PlanConfig
	for _, cfg := range s.Plans() {
		if cfg.IsActive && cfg.IsVisible {
			out = append(out, cfg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// GetActiveByTier implements plans.CatalogStore. The highest version wins.
func (s *Store) GetActiveByTier(ctx context.Context, tier plans.Tier) (*plans.PlanConfig, error) {
	var found *plans.PlanConfig
	for _, cfg := range s.Plans() {
		if cfg.Tier == tier && cfg.IsActive && (found == nil || cfg.Version > found.Version) {
			found = cfg
		}
	}
	if found == nil {
		return nil, plans.ErrPlanNotFound
	}
	return found, nil
}

// Watch reloads the catalog whenever the file changes and then calls onChange.
// It watches the parent directory so editors that replace the file are seen.
// Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if name, err := filepath.Abs(event.Name); err != nil || name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.handleChange(onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Catalog watcher error")
		}
	}
}

func (s *Store) handleChange(onChange func()) {
	defer observability.RecoverPanic(s.logger, "catalog reload")

	if err := s.Reload(); err != nil {
		s.logger.WithError(err).Error("Failed to reload plan catalog, keeping previous version")
		return
	}
	if onChange != nil {
		onChange()
	}
}
