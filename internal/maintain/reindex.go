// Package maintain holds the maintenance operations: rebuilding the ivfflat
// index and garbage-collecting orphans and stale rows.
package maintain

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragline/ragline/internal/ragerr"
	"github.com/ragline/ragline/internal/store"
)

// Action is what a reindex run will do.
type Action string

const (
	// ActionCreate builds the index for the first time.
	ActionCreate Action = "create"
	// ActionReindex rebuilds in place, keeping the current lists.
	ActionReindex Action = "reindex"
	// ActionSwap builds a new index with different lists and swaps it in.
	ActionSwap Action = "swap"
)

const (
	canonicalIndex = "embedding_vec_ivf_idx"
	buildIndex     = "embedding_vec_ivf_idx_new"
)

// HeuristicLists picks an ivfflat lists value for a table of n embeddings:
// sqrt(n) clamped to [32, 4096].
func HeuristicLists(n int64) int32 {
	if n <= 0 {
		return 32
	}
	k := int32(math.Round(math.Sqrt(float64(n))))
	if k < 32 {
		return 32
	}
	if k > 4096 {
		return 4096
	}
	return k
}

// ReindexPlan previews a reindex run.
type ReindexPlan struct {
	Rows         int64  `json:"rows"`
	CurrentLists *int32 `json:"current_lists,omitempty"`
	DesiredLists int32  `json:"desired_lists"`
	Action       Action `json:"action"`
	Analyze      bool   `json:"analyze"`
}

// ReindexResult reports an applied run.
type ReindexResult struct {
	Action       Action `json:"action"`
	DesiredLists int32  `json:"desired_lists"`
	Analyzed     bool   `json:"analyzed"`
}

// Maintainer runs index and GC maintenance against the store.
type Maintainer struct {
	pool   *pgxpool.Pool
	store  *store.Store
	logger *slog.Logger
}

// New creates a Maintainer.
func New(pool *pgxpool.Pool, st *store.Store, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{pool: pool, store: st, logger: logger}
}

// PlanReindex inspects the embedding count and current index definition and
// decides between create, in-place reindex, and swap.
func (m *Maintainer) PlanReindex(ctx context.Context, lists *int32) (ReindexPlan, error) {
	rows, err := m.store.CountEmbeddings(ctx)
	if err != nil {
		return ReindexPlan{}, err
	}

	current, exists, err := m.store.IndexLists(ctx)
	if err != nil {
		return ReindexPlan{}, err
	}

	desired := HeuristicLists(rows)
	if lists != nil {
		desired = max(*lists, 1)
	}

	plan := ReindexPlan{Rows: rows, DesiredLists: desired, Analyze: true}
	switch {
	case !exists:
		plan.Action = ActionCreate
	case current == desired:
		plan.Action = ActionReindex
		plan.CurrentLists = &current
	default:
		plan.Action = ActionSwap
		plan.CurrentLists = &current
	}
	return plan, nil
}

// ApplyReindex executes a plan. Index builds run CONCURRENTLY outside any
// transaction block, so a valid index stays visible to concurrent queries at
// every instant; the final rename is the only metadata-level switch.
func (m *Maintainer) ApplyReindex(ctx context.Context, plan ReindexPlan) (ReindexResult, error) {
	switch plan.Action {
	case ActionCreate:
		if err := m.buildNewIndex(ctx, plan.DesiredLists); err != nil {
			return ReindexResult{}, err
		}
		if err := m.renameNewIndex(ctx); err != nil {
			return ReindexResult{}, err
		}
	case ActionReindex:
		if _, err := m.pool.Exec(ctx, fmt.Sprintf("REINDEX INDEX CONCURRENTLY rag.%s", canonicalIndex)); err != nil {
			return ReindexResult{}, fmt.Errorf("%w: reindex: %v", ragerr.ErrStore, err)
		}
	case ActionSwap:
		if err := m.buildNewIndex(ctx, plan.DesiredLists); err != nil {
			return ReindexResult{}, err
		}
		if _, err := m.pool.Exec(ctx, fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS rag.%s", canonicalIndex)); err != nil {
			return ReindexResult{}, fmt.Errorf("%w: drop old index: %v", ragerr.ErrStore, err)
		}
		if err := m.renameNewIndex(ctx); err != nil {
			return ReindexResult{}, err
		}
	default:
		return ReindexResult{}, fmt.Errorf("%w: unknown reindex action %q", ragerr.ErrInvariant, plan.Action)
	}

	if _, err := m.pool.Exec(ctx, "ANALYZE rag.embedding"); err != nil {
		return ReindexResult{}, fmt.Errorf("%w: analyze: %v", ragerr.ErrStore, err)
	}
	m.logger.Info("reindex completed", "action", plan.Action, "lists", plan.DesiredLists)
	return ReindexResult{Action: plan.Action, DesiredLists: plan.DesiredLists, Analyzed: true}, nil
}

func (m *Maintainer) buildNewIndex(ctx context.Context, lists int32) error {
	sql := fmt.Sprintf(
		"CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON rag.embedding USING ivfflat (vec vector_cosine_ops) WITH (lists = %d)",
		buildIndex, lists)
	if _, err := m.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%w: create ivfflat index: %v", ragerr.ErrStore, err)
	}
	return nil
}

func (m *Maintainer) renameNewIndex(ctx context.Context) error {
	sql := fmt.Sprintf("ALTER INDEX rag.%s RENAME TO %s", buildIndex, canonicalIndex)
	if _, err := m.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("%w: rename index: %v", ragerr.ErrStore, err)
	}
	return nil
}
