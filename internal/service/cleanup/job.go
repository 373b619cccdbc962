package cleanup

import (
	"context"

	"histclean/internal/domain"
)

// ModelResolver turns labels into models. It is satisfied by *registry.Registry.
type ModelResolver interface {
	Resolve(ctx context.Context, labels []string) ([]domain.Model, error)
	Auto(ctx context.Context) ([]domain.Model, error)
}

// Job is a cleanup invocation that can be repeated, by the scheduler or the
// HTTP API. Explicit labels win over Auto.
type Job struct {
	Labels  []string
	Auto    bool
	Options domain.CleanupOptions
}

// Models resolves the models selected by the job.
func (j Job) Models(ctx context.Context, r ModelResolver) ([]domain.Model, error) {
	switch {
	case len(j.Labels) > 0:
		return r.Resolve(ctx, j.Labels)
	case j.Auto:
		return r.Auto(ctx)
	default:
		return nil, domain.ErrValidation("no models selected: name app.model labels or enable auto discovery")
	}
}

// RunJob resolves the job's models and runs it. A job without a run id gets
// a fresh one on every call.
func (s *Service) RunJob(ctx context.Context, r ModelResolver, trigger string, job Job) (*domain.Report, error) {
	models, err := job.Models(ctx, r)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, trigger, models, job.Options)
}
