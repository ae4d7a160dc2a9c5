package pipeline

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/memory"
)

// defaultMinEvidence is used when the request does not specify
// min_evidence.
const defaultMinEvidence = 3

// defaultEvidenceCap is the floor on how many evidence items are kept
// when min_evidence is small; spec.md's "truncate to min_evidence or
// more" means min_evidence is a lower, not upper, bound.
const defaultEvidenceCap = 10

// memoryResultReliability is the fixed reliability weight assigned to a
// memory-sourced evidence item; memory records are first-party and taken
// as more reliable than unauthenticated web search results.
const memoryResultReliability = 0.9

// webResultReliability is the fixed reliability weight assigned to a
// web-search evidence item.
const webResultReliability = 0.5

// CollectEvidenceStage queries the memory subsystem and, if configured,
// an optional web-search capability, scores every item by
// relevance·reliability, and truncates to at least min_evidence items
// (spec.md §4.1).
type CollectEvidenceStage struct {
	Memory *memory.Store
	Web    WebSearcher
}

func (CollectEvidenceStage) Name() string { return "collect_evidence" }

// Run fans the memory search and the optional web search out over an
// errgroup so the two legs, which share no state, run concurrently
// instead of back to back (grounded on the teacher's
// internal/conflicts/scorer.go errgroup.WithContext fan-out of
// independent scoring legs). Only the web leg's error is fatal to the
// group; a memory-search failure degrades quietly so the web leg (if
// any) can still contribute evidence.
func (s CollectEvidenceStage) Run(ctx context.Context, pc *Context) error {
	var (
		mu         sync.Mutex
		memItems   []EvidenceItem
		memRecords []memory.Record
		memCites   []string
		webItems   []EvidenceItem
	)

	g, gctx := errgroup.WithContext(ctx)

	if s.Memory != nil && pc.UserID != "" {
		g.Go(func() error {
			records, err := s.Memory.Search(gctx, pc.UserID, pc.Normalized.Request.Query, 20, nil)
			if err != nil {
				// A degraded memory leg does not abort evidence collection; the
				// web leg (if any) can still contribute.
				return nil
			}
			found := make([]EvidenceItem, 0, len(records))
			cites := make([]string, 0, len(records))
			for _, r := range records {
				found = append(found, EvidenceItem{
					Source:      "memory:" + r.ID.String(),
					Content:     r.Text,
					Relevance:   1.0, // memory.Search already ranks by similarity; treated as fully relevant here
					Reliability: memoryResultReliability,
				})
				cites = append(cites, r.ID.String())
			}
			mu.Lock()
			memRecords = records
			memItems = found
			memCites = cites
			mu.Unlock()
			return nil
		})
	}

	if s.Web != nil {
		g.Go(func() error {
			found, err := s.Web.Search(gctx, pc.Normalized.Request.Query, 10)
			if err != nil {
				return errs.New(errs.KindCapabilityUnavailable, "pipeline: web search failed", err).WithStage("collect_evidence")
			}
			for i := range found {
				if found[i].Reliability == 0 {
					found[i].Reliability = webResultReliability
				}
			}
			mu.Lock()
			webItems = found
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	pc.MemoryResults = memRecords
	pc.MemoryCitations = memCites
	items := append(memItems, webItems...)

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score() > items[j].score()
	})

	minEvidence := pc.Normalized.Request.MinEvidence
	if minEvidence <= 0 {
		minEvidence = defaultMinEvidence
	}
	keep := minEvidence
	if keep < defaultEvidenceCap {
		keep = defaultEvidenceCap
	}
	if len(items) > keep {
		items = items[:keep]
	}
	pc.Evidence = items
	return nil
}
