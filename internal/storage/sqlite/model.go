package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	gateway "github.com/lkgate/lkgate/internal"
)

const modelColumns = `id, provider, model_name, display_name, context_window,
 max_output_tokens, capabilities, cost_per_1k_input, cost_per_1k_output,
 is_active, priority`

// CreateModel inserts a new model catalogue entry.
func (s *Store) CreateModel(ctx context.Context, m *gateway.ModelConfig) error {
	caps, err := marshalCaps(m.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.writer.ExecContext(ctx,
		`INSERT INTO model_configs (id, provider, model_name, display_name, context_window,
		 max_output_tokens, capabilities, cost_per_1k_input, cost_per_1k_output,
		 is_active, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Provider, m.ModelName, m.DisplayName, m.ContextWindow,
		m.MaxOutputTokens, caps, m.CostPer1KInput, m.CostPer1KOutput,
		boolToInt(m.IsActive), m.Priority,
	)
	return err
}

// GetModel retrieves a model by its ID.
func (s *Store) GetModel(ctx context.Context, id string) (*gateway.ModelConfig, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM model_configs WHERE id = ?`, id)
	return scanModel(row)
}

// ListModels returns catalogue entries ordered by priority descending, then
// provider ascending. With activeOnly, inactive entries are excluded.
func (s *Store) ListModels(ctx context.Context, activeOnly bool) ([]*gateway.ModelConfig, error) {
	q := `SELECT ` + modelColumns + ` FROM model_configs`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY priority DESC, provider ASC, model_name ASC`

	rows, err := s.reader.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*gateway.ModelConfig
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// UpdateModel updates an existing catalogue entry.
func (s *Store) UpdateModel(ctx context.Context, m *gateway.ModelConfig) error {
	caps, err := marshalCaps(m.Capabilities)
	if err != nil {
		return err
	}
	result, err := s.writer.ExecContext(ctx,
		`UPDATE model_configs SET display_name=?, context_window=?, max_output_tokens=?,
		 capabilities=?, cost_per_1k_input=?, cost_per_1k_output=?, is_active=?, priority=?
		 WHERE id=?`,
		m.DisplayName, m.ContextWindow, m.MaxOutputTokens,
		caps, m.CostPer1KInput, m.CostPer1KOutput,
		boolToInt(m.IsActive), m.Priority, m.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model")
}

// DeleteModel removes a catalogue entry.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	result, err := s.writer.ExecContext(ctx, `DELETE FROM model_configs WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model")
}

func scanModel(s scanner) (*gateway.ModelConfig, error) {
	var m gateway.ModelConfig
	var caps sql.NullString
	var isActive int

	err := s.Scan(
		&m.ID, &m.Provider, &m.ModelName, &m.DisplayName, &m.ContextWindow,
		&m.MaxOutputTokens, &caps, &m.CostPer1KInput, &m.CostPer1KOutput,
		&isActive, &m.Priority,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	m.IsActive = isActive != 0
	if caps.Valid {
		if err := json.Unmarshal([]byte(caps.String), &m.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	return &m, nil
}

func marshalCaps(caps []gateway.Capability) (sql.NullString, error) {
	if len(caps) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(caps)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
