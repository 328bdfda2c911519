package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	differential "github.com/differentialhq/differential-sub000"
	"github.com/differentialhq/differential-sub000/definition"
)

// GetDefinition retrieves the definition document for an owner.
func (s *Store) GetDefinition(ctx context.Context, ownerHash string) (*definition.Document, error) {
	var (
		doc      definition.Document
		services []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT owner_hash, predictive_retries, services, updated_at
		FROM differential_definitions
		WHERE owner_hash = $1`,
		ownerHash,
	).Scan(&doc.OwnerHash, &doc.PredictiveRetries, &services, &doc.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, differential.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("differential/postgres: get definition: %w", err)
	}

	if len(services) > 0 {
		if err := json.Unmarshal(services, &doc.Services); err != nil {
			return nil, fmt.Errorf("differential/postgres: decode definition services: %w", err)
		}
	}
	return &doc, nil
}

// PutDefinition inserts or replaces the document for its owner.
func (s *Store) PutDefinition(ctx context.Context, d *definition.Document) error {
	services, err := json.Marshal(d.Services)
	if err != nil {
		return fmt.Errorf("differential/postgres: encode definition services: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO differential_definitions (owner_hash, predictive_retries, services, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_hash) DO UPDATE SET
			predictive_retries = EXCLUDED.predictive_retries,
			services = EXCLUDED.services,
			updated_at = NOW()`,
		d.OwnerHash, d.PredictiveRetries, services,
	)
	if err != nil {
		return fmt.Errorf("differential/postgres: put definition: %w", err)
	}
	return nil
}
