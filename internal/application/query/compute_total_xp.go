// Package query contains read operations (CQRS - Queries).
// Queries never change the state of the system.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifequest/lifequest-hub/internal/domain/content"
	"github.com/lifequest/lifequest-hub/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPUTE TOTAL XP QUERY
// Reads every XP-contributing collection and reduces it to a weighted total.
// A collection that is missing or fails to load contributes zero; the query
// itself only fails when the caller's context is done.
// ══════════════════════════════════════════════════════════════════════════════

// ComputeTotalXPQuery requests a fresh XP total.
type ComputeTotalXPQuery struct {
	// CorrelationID for tracing across services.
	CorrelationID string
}

// SourceFailure records why a source contributed zero.
type SourceFailure struct {
	Source  progression.Source `json:"source" yaml:"source"`
	Missing bool               `json:"missing" yaml:"missing"`
	Reason  string             `json:"reason" yaml:"reason"`
}

// ComputeTotalXPResult is the aggregated XP.
type ComputeTotalXPResult struct {
	// TotalXP is the sum of the breakdown, never negative.
	TotalXP int `json:"total_xp" yaml:"total_xp"`

	// Breakdown is the contribution of each source.
	Breakdown progression.Breakdown `json:"breakdown" yaml:"breakdown"`

	// Failures lists the sources that defaulted to zero, in source order.
	Failures []SourceFailure `json:"failures,omitempty" yaml:"failures,omitempty"`

	// ComputedAt is when the aggregation finished.
	ComputedAt time.Time `json:"computed_at" yaml:"computed_at"`
}

// State resolves the level and rank for the aggregated total.
func (r *ComputeTotalXPResult) State() progression.State {
	return progression.Resolve(r.TotalXP)
}

// Degraded reports whether any source defaulted to zero.
func (r *ComputeTotalXPResult) Degraded() bool {
	return len(r.Failures) > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ComputeTotalXPConfig contains configuration for the handler.
type ComputeTotalXPConfig struct {
	// FetchTimeout bounds each collection read (0 = no per-read timeout).
	FetchTimeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultComputeTotalXPConfig returns default configuration.
func DefaultComputeTotalXPConfig() ComputeTotalXPConfig {
	return ComputeTotalXPConfig{
		FetchTimeout: 10 * time.Second,
	}
}

// ComputeTotalXPHandler handles ComputeTotalXPQuery.
type ComputeTotalXPHandler struct {
	store        content.RecordStore
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewComputeTotalXPHandler creates a new ComputeTotalXPHandler.
func NewComputeTotalXPHandler(store content.RecordStore, config ComputeTotalXPConfig) *ComputeTotalXPHandler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &ComputeTotalXPHandler{
		store:        store,
		fetchTimeout: config.FetchTimeout,
		logger:       config.Logger.With("handler", "compute_total_xp"),
		now:          time.Now,
	}
}

// sourceReader loads one source and returns its contribution.
type sourceReader func(ctx context.Context) (int, error)

// Handle executes the query. The seven reads run concurrently; the result is
// assembled only after all of them have settled.
func (h *ComputeTotalXPHandler) Handle(ctx context.Context, q ComputeTotalXPQuery) (*ComputeTotalXPResult, error) {
	sources := progression.Sources()
	readers := h.readers()

	contributions := make([]int, len(sources))
	failures := make([]error, len(sources))

	var g errgroup.Group
	for i, source := range sources {
		g.Go(func() error {
			readCtx := ctx
			if h.fetchTimeout > 0 {
				var cancel context.CancelFunc
				readCtx, cancel = context.WithTimeout(ctx, h.fetchTimeout)
				defer cancel()
			}

			xp, err := readers[source](readCtx)
			if err != nil {
				failures[i] = err
				return nil
			}
			contributions[i] = progression.NonNegative(xp)
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled caller gets no result rather than a misleading zero total.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("compute_total_xp: %w", err)
	}

	result := &ComputeTotalXPResult{ComputedAt: h.now().UTC()}
	for i, source := range sources {
		if failures[i] != nil {
			result.Failures = append(result.Failures, h.recordFailure(source, failures[i], q.CorrelationID))
			continue
		}
		result.Breakdown.Set(source, contributions[i])
	}
	result.TotalXP = result.Breakdown.Total()

	h.logger.Debug("total xp computed",
		"total_xp", result.TotalXP,
		"degraded_sources", len(result.Failures),
		"correlation_id", q.CorrelationID,
	)

	return result, nil
}

func (h *ComputeTotalXPHandler) recordFailure(source progression.Source, err error, correlationID string) SourceFailure {
	missing := errors.Is(err, content.ErrCollectionMissing)
	if missing {
		h.logger.Info("collection not provisioned, counting as zero",
			"source", source,
			"correlation_id", correlationID,
		)
	} else {
		h.logger.Warn("failed to read collection, counting as zero",
			"source", source,
			"error", err,
			"correlation_id", correlationID,
		)
	}

	return SourceFailure{
		Source:  source,
		Missing: missing,
		Reason:  err.Error(),
	}
}

// readers maps every source to the read that computes its contribution.
func (h *ComputeTotalXPHandler) readers() map[progression.Source]sourceReader {
	return map[progression.Source]sourceReader{
		progression.SourceSkills: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionSkills, content.Query{})
			if err != nil {
				return 0, err
			}
			total := 0
			for _, s := range content.DecodeSkills(records) {
				total += s.XP()
			}
			return total, nil
		},
		progression.SourceProjects: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionProjects, content.Query{})
			if err != nil {
				return 0, err
			}
			total := 0
			for _, p := range content.DecodeProjects(records) {
				total += p.XP()
			}
			return total, nil
		},
		progression.SourceCertifications: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionCertifications, content.Query{})
			if err != nil {
				return 0, err
			}
			return progression.CertificationsXP(len(content.DecodeCertifications(records))), nil
		},
		progression.SourceExperiences: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionExperiences, content.Query{})
			if err != nil {
				return 0, err
			}
			return progression.ExperiencesXP(len(content.DecodeExperiences(records))), nil
		},
		progression.SourceAchievements: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionAchievements, content.AchievementsQuery())
			if err != nil {
				return 0, err
			}
			return progression.AchievementsXP(len(content.DecodeAchievements(records))), nil
		},
		progression.SourceCourses: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionCourses, content.Query{})
			if err != nil {
				return 0, err
			}
			total := 0
			for _, c := range content.DecodeCourses(records) {
				total += c.XP()
			}
			return total, nil
		},
		progression.SourceHabits: func(ctx context.Context) (int, error) {
			records, err := h.store.QueryCollection(ctx, content.CollectionHabits, content.Query{})
			if err != nil {
				return 0, err
			}
			total := 0
			for _, hb := range content.DecodeHabits(records) {
				total += hb.XP()
			}
			return total, nil
		},
	}
}
