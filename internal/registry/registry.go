// Package registry resolves "app.model" labels to historical tables in the
// target database.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"histclean/internal/domain"
)

const historicalInfix = "_historical"

// Hint is shown when no model could be selected.
const Hint = "Please specify a model or use the --auto option"

// ErrNoModels is returned (joined with the per-label errors) when Resolve
// cannot resolve every label.
var ErrNoModels = errors.New("please specify a model or use the --auto option")

// Registry knows the configured models and discovers conventional ones.
type Registry struct {
	schema     domain.SchemaInspector
	configured map[string]domain.Model
	logger     *slog.Logger
}

// New creates a Registry. Configured models take precedence over the naming
// convention for the same label.
func New(schema domain.SchemaInspector, configured []domain.Model, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		schema:     schema,
		configured: make(map[string]domain.Model, len(configured)),
		logger:     logger,
	}
	for _, m := range configured {
		app, name, err := domain.ParseLabel(m.Label)
		if err != nil {
			return nil, err
		}
		m.Label = app + "." + name
		if m.HistoryTable == "" {
			return nil, domain.ErrValidation("model %s: history table is required", m.Label)
		}
		if _, dup := r.configured[m.Label]; dup {
			return nil, domain.ErrValidation("model %s is configured twice", m.Label)
		}
		r.configured[m.Label] = m.WithDefaults()
	}
	return r, nil
}

// Configured returns the configured models sorted by label.
func (r *Registry) Configured() []domain.Model {
	out := make([]domain.Model, 0, len(r.configured))
	for _, m := range r.configured {
		out = append(out, m)
	}
	sortModels(out)
	return out
}

// Resolve maps labels to models. Every failing label is reported; the
// returned error joins them with ErrNoModels.
func (r *Registry) Resolve(ctx context.Context, labels []string) ([]domain.Model, error) {
	var (
		models []domain.Model
		errs   []error
		seen   = make(map[string]bool)
	)
	for _, label := range labels {
		m, err := r.resolve(ctx, label)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if seen[m.Label] {
			continue
		}
		seen[m.Label] = true
		models = append(models, m)
	}
	if len(errs) > 0 {
		return nil, errors.Join(append(errs, ErrNoModels)...)
	}
	return models, nil
}

func (r *Registry) resolve(ctx context.Context, label string) (domain.Model, error) {
	m, ok := r.lookup(label)
	if !ok {
		return domain.Model{}, domain.ErrNotFound("Unable to find model < %s >", label)
	}

	if !m.HistoryOnly() {
		exists, err := r.schema.TableExists(ctx, m.Table)
		if err != nil {
			return domain.Model{}, fmt.Errorf("resolve %s: %w", label, err)
		}
		if !exists {
			return domain.Model{}, domain.ErrNotFound("Unable to find model < %s >", label)
		}
	}

	historical, err := r.isHistoryTable(ctx, m)
	if err != nil {
		return domain.Model{}, fmt.Errorf("resolve %s: %w", label, err)
	}
	if !historical {
		return domain.Model{}, domain.ErrNotHistorical("No history model found < %s >", label)
	}
	return m, nil
}

func (r *Registry) lookup(label string) (domain.Model, bool) {
	app, name, err := domain.ParseLabel(label)
	if err != nil {
		return domain.Model{}, false
	}
	if m, ok := r.configured[app+"."+name]; ok {
		return m, true
	}
	m, err := domain.ConventionalModel(label)
	if err != nil {
		return domain.Model{}, false
	}
	return m, true
}

// isHistoryTable reports whether m's history table exists and carries the
// snapshot id and date columns.
func (r *Registry) isHistoryTable(ctx context.Context, m domain.Model) (bool, error) {
	cols, err := r.schema.Columns(ctx, m.HistoryTable)
	if err != nil {
		return false, err
	}
	return slices.Contains(cols, m.HistoryIDColumn) && slices.Contains(cols, m.DateColumn), nil
}

// Auto returns every configured model whose tables exist plus every table
// following the history naming convention whose live table exists, sorted
// by label.
func (r *Registry) Auto(ctx context.Context) ([]domain.Model, error) {
	byLabel := make(map[string]domain.Model)
	for label := range r.configured {
		m, err := r.resolve(ctx, label)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("skipping configured model", "model", label, "error", err)
			continue
		}
		byLabel[m.Label] = m
	}

	tables, err := r.schema.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover history tables: %w", err)
	}
	for _, table := range tables {
		label, ok := domain.LabelFromHistoryTable(table)
		if !ok {
			continue
		}
		if _, done := byLabel[label]; done {
			continue
		}
		m, err := domain.ConventionalModel(label)
		if err != nil {
			continue
		}
		m.HistoryTable = table
		m.Table = liveTable(table)

		historical, err := r.isHistoryTable(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", table, err)
		}
		if !historical {
			continue
		}
		exists, err := r.schema.TableExists(ctx, m.Table)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", m.Table, err)
		}
		if !exists {
			r.logger.Debug("history table has no live table", "table", table, "expected", m.Table)
			continue
		}
		byLabel[label] = m
	}

	out := make([]domain.Model, 0, len(byLabel))
	for _, m := range byLabel {
		out = append(out, m)
	}
	sortModels(out)
	return out, nil
}

// liveTable maps app_historicalmodel to app_model, keeping the original case.
func liveTable(historyTable string) string {
	app, model, _ := strings.Cut(historyTable, historicalInfix)
	return app + "_" + model
}

func sortModels(ms []domain.Model) {
	slices.SortFunc(ms, func(a, b domain.Model) int { return strings.Compare(a.Label, b.Label) })
}
