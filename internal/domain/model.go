package domain

import (
	"strings"
)

// Column names written by the history extension unless a model overrides them.
const (
	DefaultPKColumn        = "id"
	DefaultHistoryIDColumn = "history_id"
	DefaultDateColumn      = "history_date"

	// HistoryColumnPrefix marks snapshot metadata columns. They never take
	// part in a diff.
	HistoryColumnPrefix = "history_"

	historicalInfix = "_historical"
)

// Model describes a tracked model and the table holding its snapshots.
type Model struct {
	Label           string // "app.model"
	Table           string // live table; empty for history-only models
	HistoryTable    string
	PKColumn        string
	HistoryIDColumn string
	DateColumn      string
	MetaColumns     []string // extra non-tracked columns on the history table
	ExcludedFields  []string // always ignored by the diff for this model
}

func (m Model) String() string { return m.Label }

// HistoryOnly reports whether the model has no live table to enumerate objects from.
func (m Model) HistoryOnly() bool { return m.Table == "" }

// WithDefaults returns a copy with empty column names set to the defaults.
func (m Model) WithDefaults() Model {
	if m.PKColumn == "" {
		m.PKColumn = DefaultPKColumn
	}
	if m.HistoryIDColumn == "" {
		m.HistoryIDColumn = DefaultHistoryIDColumn
	}
	if m.DateColumn == "" {
		m.DateColumn = DefaultDateColumn
	}
	return m
}

// IsMetaColumn reports whether col is snapshot metadata rather than a tracked field.
func (m Model) IsMetaColumn(col string) bool {
	if strings.HasPrefix(col, HistoryColumnPrefix) || col == m.HistoryIDColumn || col == m.DateColumn {
		return true
	}
	for _, c := range m.MetaColumns {
		if c == col {
			return true
		}
	}
	return false
}

// ParseLabel splits an "app.model" label into its lower-cased parts.
func ParseLabel(label string) (app, model string, err error) {
	app, model, ok := strings.Cut(strings.TrimSpace(label), ".")
	if !ok || app == "" || model == "" || strings.Contains(model, ".") {
		return "", "", ErrValidation("invalid model label %q: expected app.model", label)
	}
	return strings.ToLower(app), strings.ToLower(model), nil
}

// ConventionalModel derives table names from a label the way the history
// extension names them: app_model and app_historicalmodel.
func ConventionalModel(label string) (Model, error) {
	app, model, err := ParseLabel(label)
	if err != nil {
		return Model{}, err
	}
	return Model{
		Label:        app + "." + model,
		Table:        app + "_" + model,
		HistoryTable: app + historicalInfix + model,
	}.WithDefaults(), nil
}

// LabelFromHistoryTable recovers the "app.model" label from a history table
// name. ok is false when the name does not follow the convention.
func LabelFromHistoryTable(table string) (label string, ok bool) {
	i := strings.Index(table, historicalInfix)
	if i <= 0 {
		return "", false
	}
	app, model := table[:i], table[i+len(historicalInfix):]
	if model == "" {
		return "", false
	}
	return strings.ToLower(app) + "." + strings.ToLower(model), true
}
