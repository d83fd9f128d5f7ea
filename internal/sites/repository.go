package sites

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/articlemail/internal/store"
	"go.uber.org/zap"
)

// Repository persists the site config list under the shared siteConfigs key.
type Repository struct {
	store *store.Store
	log   *zap.Logger
}

// NewRepository creates a repository over s.
func NewRepository(s *store.Store, logger *zap.Logger) *Repository {
	return &Repository{store: s, log: logger.Named("sites")}
}

// Load returns the stored configs in order. Malformed entries are skipped.
func (r *Repository) Load(ctx context.Context) ([]SiteConfig, error) {
	raw, ok, err := r.store.GetRaw(ctx, store.KeySiteConfigs)
	if err != nil {
		return nil, fmt.Errorf("failed to read site configs: %w", err)
	}
	if !ok {
		return nil, nil
	}
	configs, errs, err := decodeEntries(raw, FormatJSON)
	if err != nil {
		r.log.Warn("Stored site configs are unreadable; treating as empty", zap.Error(err))
		return nil, nil
	}
	for _, e := range errs {
		r.log.Warn("Skipping malformed site config", zap.Error(e))
	}
	return configs, nil
}

// Save replaces the stored list. Every entry is normalized and validated first.
func (r *Repository) Save(ctx context.Context, configs []SiteConfig) error {
	clean := make([]SiteConfig, 0, len(configs))
	for i, c := range configs {
		c = c.Normalize()
		if err := c.Validate(); err != nil {
			return &entryError{Index: i, Err: err}
		}
		clean = append(clean, c)
	}
	if err := r.store.PutJSON(ctx, store.KeySiteConfigs, clean); err != nil {
		return fmt.Errorf("failed to save site configs: %w", err)
	}
	return nil
}

// Add appends c, or replaces the existing config with the same non-empty name.
func (r *Repository) Add(ctx context.Context, c SiteConfig) error {
	configs, err := r.Load(ctx)
	if err != nil {
		return err
	}
	if idx := Find(configs, c.Name); c.Name != "" && idx >= 0 {
		configs[idx] = c
	} else {
		configs = append(configs, c)
	}
	return r.Save(ctx, configs)
}

// Remove deletes the config with the given name. It reports whether one existed.
func (r *Repository) Remove(ctx context.Context, name string) (bool, error) {
	configs, err := r.Load(ctx)
	if err != nil {
		return false, err
	}
	idx := Find(configs, name)
	if idx < 0 {
		return false, nil
	}
	configs = append(configs[:idx], configs[idx+1:]...)
	return true, r.Save(ctx, configs)
}
