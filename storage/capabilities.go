package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"parley/capability"
)

// CapabilityCache remembers the model descriptors last fetched per provider,
// so capability gating still works while a provider is unreachable
type CapabilityCache struct {
	db *sql.DB
}

func NewCapabilityCache(dataDir string) (*CapabilityCache, error) {
	dbPath := filepath.Join(dataDir, "capabilities.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cache := &CapabilityCache{db: db}
	if err := cache.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return cache, nil
}

func (c *CapabilityCache) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS model_capabilities (
		provider_id TEXT NOT NULL,
		model_id TEXT NOT NULL,
		supports_tools INTEGER NOT NULL DEFAULT 0,
		supports_images INTEGER NOT NULL DEFAULT 0,
		supports_files INTEGER NOT NULL DEFAULT 0,
		fetched_at DATETIME NOT NULL,
		PRIMARY KEY (provider_id, model_id)
	);
	CREATE INDEX IF NOT EXISTS idx_model_capabilities_provider ON model_capabilities(provider_id);
	`

	_, err := c.db.Exec(schema)
	return err
}

// SaveDescriptors replaces every cached descriptor of a provider
func (c *CapabilityCache) SaveDescriptors(providerID string, descriptors []capability.Descriptor) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM model_capabilities WHERE provider_id = ?`, providerID); err != nil {
		return fmt.Errorf("failed to clear descriptors: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO model_capabilities (provider_id, model_id, supports_tools, supports_images, supports_files, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	for _, d := range descriptors {
		if _, err := tx.Exec(query, providerID, d.ID, d.SupportsTools, d.SupportsImages, d.SupportsFiles, now); err != nil {
			return fmt.Errorf("failed to store descriptor %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

// LoadDescriptors returns the cached descriptors of a provider, ordered by model ID
func (c *CapabilityCache) LoadDescriptors(providerID string) ([]capability.Descriptor, error) {
	query := `
	SELECT model_id, supports_tools, supports_images, supports_files
	FROM model_capabilities
	WHERE provider_id = ?
	ORDER BY model_id
	`

	rows, err := c.db.Query(query, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var descriptors []capability.Descriptor
	for rows.Next() {
		var d capability.Descriptor
		if err := rows.Scan(&d.ID, &d.SupportsTools, &d.SupportsImages, &d.SupportsFiles); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, rows.Err()
}

// FetchedAt returns when a provider's descriptors were last stored
func (c *CapabilityCache) FetchedAt(providerID string) (time.Time, bool, error) {
	query := `
	SELECT fetched_at FROM model_capabilities
	WHERE provider_id = ?
	ORDER BY fetched_at DESC
	LIMIT 1
	`

	var fetched time.Time
	err := c.db.QueryRow(query, providerID).Scan(&fetched)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return fetched, true, nil
}

func (c *CapabilityCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
