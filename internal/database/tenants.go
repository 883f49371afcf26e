package database

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// TenantRegistry holds one gorm handle per configured SQL archive tenant.
// Engines receive the handle for their connector's tenant as an explicit
// parameter per call; there is no mutable routing state to reset, so
// concurrent queries against different tenants cannot leak into each other.
type TenantRegistry struct {
	mu      sync.RWMutex
	dsns    map[string]string
	handles map[string]*gorm.DB
}

// NewTenantRegistry creates a registry over the configured tenant DSNs.
// Connections are opened lazily on first use.
func NewTenantRegistry(dsns map[string]string) *TenantRegistry {
	return &TenantRegistry{
		dsns:    dsns,
		handles: make(map[string]*gorm.DB),
	}
}

// Handle returns the gorm handle for a tenant, opening it if needed.
func (r *TenantRegistry) Handle(tenant string) (*gorm.DB, error) {
	r.mu.RLock()
	db, ok := r.handles[tenant]
	r.mu.RUnlock()
	if ok {
		return db, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if db, ok := r.handles[tenant]; ok {
		return db, nil
	}

	dsn, ok := r.dsns[tenant]
	if !ok {
		return nil, fmt.Errorf("unknown SQL tenant: %s", tenant)
	}

	db, err := open(dsn, "warn")
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant %s: %w", tenant, err)
	}

	log.Info().Str("tenant", tenant).Msg("Opened tenant data source")
	r.handles[tenant] = db
	return db, nil
}

// Close closes every opened tenant handle.
func (r *TenantRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs int
	for tenant, db := range r.handles {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			log.Warn().Err(err).Str("tenant", tenant).Msg("Failed to close tenant data source")
			errs++
		}
		delete(r.handles, tenant)
	}

	if errs > 0 {
		return fmt.Errorf("encountered %d errors while closing tenant data sources", errs)
	}
	return nil
}
