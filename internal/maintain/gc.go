package maintain

import (
	"context"
	"fmt"
	"time"

	"github.com/ragline/ragline/internal/ragerr"
)

// VacuumMode selects the vacuum pass that runs after GC.
type VacuumMode string

const (
	VacuumAnalyze VacuumMode = "analyze"
	VacuumFull    VacuumMode = "full"
	VacuumOff     VacuumMode = "off"
)

// ParseVacuumMode validates a --vacuum value.
func ParseVacuumMode(s string) (VacuumMode, error) {
	switch VacuumMode(s) {
	case VacuumAnalyze, VacuumFull, VacuumOff:
		return VacuumMode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown vacuum mode %q (expected analyze, full, or off)", ragerr.ErrConfig, s)
	}
}

var gcTables = []string{"rag.document", "rag.chunk", "rag.embedding"}

// GCOptions select the sub-operations of a GC run.
type GCOptions struct {
	Cutoff          time.Time // zero matches everything for the age-based deletes
	Max             int64     // rows per delete batch
	FeedID          *int32
	Vacuum          VacuumMode
	DropTempIndexes bool
	FixStatus       bool
}

// GCPlan carries the counts each sub-operation would touch.
type GCPlan struct {
	OrphanEmbeddings int64      `json:"orphan_embeddings"`
	OrphanChunks     int64      `json:"orphan_chunks"`
	ErrorDocs        int64      `json:"error_docs"`
	StaleIngested    int64      `json:"stale_ingested"`
	BadChunks        int64      `json:"bad_chunks"`
	FixStatus        bool       `json:"fix_status"`
	DropTempIndexes  bool       `json:"drop_temp_indexes"`
	Vacuum           VacuumMode `json:"vacuum"`
	Cutoff           *time.Time `json:"cutoff,omitempty"`
}

// GCResult counts what an applied run deleted or changed.
type GCResult struct {
	OrphanEmbeddings int64      `json:"orphan_embeddings"`
	OrphanChunks     int64      `json:"orphan_chunks"`
	ErrorDocs        int64      `json:"error_docs"`
	StaleIngested    int64      `json:"stale_ingested"`
	BadChunks        int64      `json:"bad_chunks"`
	StatusEmbedded   int64      `json:"status_embedded"`
	StatusChunked    int64      `json:"status_chunked"`
	StatusIngested   int64      `json:"status_ingested"`
	DroppedTempIndex bool       `json:"dropped_temp_index"`
	Vacuum           VacuumMode `json:"vacuum"`
}

// PlanGC counts every sub-operation without writing.
func (m *Maintainer) PlanGC(ctx context.Context, opts GCOptions) (GCPlan, error) {
	plan := GCPlan{
		FixStatus:       opts.FixStatus,
		DropTempIndexes: opts.DropTempIndexes,
		Vacuum:          opts.Vacuum,
	}
	if !opts.Cutoff.IsZero() {
		cutoff := opts.Cutoff
		plan.Cutoff = &cutoff
	}

	var err error
	if plan.OrphanEmbeddings, err = m.store.CountOrphanEmbeddings(ctx); err != nil {
		return plan, err
	}
	if plan.OrphanChunks, err = m.store.CountOrphanChunks(ctx); err != nil {
		return plan, err
	}
	if plan.ErrorDocs, err = m.store.CountErrorDocs(ctx, opts.Cutoff, opts.FeedID); err != nil {
		return plan, err
	}
	if plan.StaleIngested, err = m.store.CountStaleIngested(ctx, opts.Cutoff, opts.FeedID); err != nil {
		return plan, err
	}
	if plan.BadChunks, err = m.store.CountBadChunks(ctx, opts.FeedID); err != nil {
		return plan, err
	}
	return plan, nil
}

// ApplyGC runs the selected sub-operations. Each one commits independently,
// so an interrupted run leaves a well-defined subset applied.
func (m *Maintainer) ApplyGC(ctx context.Context, opts GCOptions) (GCResult, error) {
	max := opts.Max
	if max < 1 {
		max = 10_000
	}
	res := GCResult{Vacuum: opts.Vacuum}

	var err error
	// Chunks before embeddings: deleting an orphan chunk cascades into its
	// embedding, shrinking the orphan-embedding set.
	if res.OrphanChunks, err = m.store.DeleteOrphanChunks(ctx, max); err != nil {
		return res, err
	}
	if res.OrphanEmbeddings, err = m.store.DeleteOrphanEmbeddings(ctx, max); err != nil {
		return res, err
	}
	if res.ErrorDocs, err = m.store.DeleteErrorDocs(ctx, opts.Cutoff, opts.FeedID, max); err != nil {
		return res, err
	}
	if res.StaleIngested, err = m.store.DeleteStaleIngested(ctx, opts.Cutoff, opts.FeedID, max); err != nil {
		return res, err
	}
	if res.BadChunks, err = m.store.DeleteBadChunks(ctx, opts.FeedID, max); err != nil {
		return res, err
	}

	if opts.FixStatus {
		res.StatusEmbedded, res.StatusChunked, res.StatusIngested, err = m.store.FixStatuses(ctx, opts.FeedID)
		if err != nil {
			return res, err
		}
	}

	if opts.DropTempIndexes {
		sql := fmt.Sprintf("DROP INDEX CONCURRENTLY IF EXISTS rag.%s", buildIndex)
		if _, err := m.pool.Exec(ctx, sql); err != nil {
			return res, fmt.Errorf("%w: drop temp index: %v", ragerr.ErrStore, err)
		}
		res.DroppedTempIndex = true
	}

	switch opts.Vacuum {
	case VacuumOff:
	case VacuumAnalyze:
		for _, table := range gcTables {
			if _, err := m.pool.Exec(ctx, "ANALYZE "+table); err != nil {
				return res, fmt.Errorf("%w: analyze %s: %v", ragerr.ErrStore, table, err)
			}
		}
	case VacuumFull:
		// FULL takes exclusive locks; only runs when asked for explicitly.
		for _, table := range gcTables {
			if _, err := m.pool.Exec(ctx, "VACUUM (ANALYZE, FULL) "+table); err != nil {
				return res, fmt.Errorf("%w: vacuum %s: %v", ragerr.ErrStore, table, err)
			}
		}
	}
	return res, nil
}
