package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/memory"
	"github.com/veritas-os/veritas/internal/outbox"
	"github.com/veritas-os/veritas/internal/pgmirror"
	"github.com/veritas-os/veritas/internal/trustlog"
)

// FinalizeStage writes the TrustLog "decide" entry, optionally persists
// the chosen alternative back into memory, enqueues an async decision
// mirror write, and assembles the fields the orchestrator does not
// already own (spec.md §4.1's finalize contract).
type FinalizeStage struct {
	Log    *trustlog.Log
	Memory *memory.Store
	Outbox *outbox.Worker // optional; nil disables the decision mirror
}

func (FinalizeStage) Name() string { return "finalize" }

func (s FinalizeStage) Run(ctx context.Context, pc *Context) error {
	payload := finalizePayload(pc)

	if s.Log != nil {
		entry, err := s.Log.Append(pc.Normalized.Request.RequestID, pc.Normalized.Request.RequestID, "decide", payload)
		if err != nil {
			// A TrustLog write failure is transient I/O, not a reason to
			// withhold the decision already computed; the raw payload is
			// retained per spec.md §9's open question on promotion failure.
			raw, _ := json.Marshal(payload)
			pc.TrustEntryRaw = raw
			return errs.New(errs.KindTransientIO, "pipeline: trust log append failed", err).WithStage("finalize")
		}
		pc.TrustEntry = &entry
	}

	if s.Outbox != nil {
		var embedding []float32
		if len(pc.MemoryResults) > 0 {
			embedding = pc.MemoryResults[0].Embedding
		}
		s.Outbox.Enqueue(pgmirror.DecisionRecord{
			RequestID:      pc.Normalized.Request.RequestID,
			UserID:         pc.UserID,
			DecisionStatus: string(pc.Gate.Status),
			Risk:           pc.Gate.Risk,
			PolicyVersion:  pc.Gate.PolicyVersion,
			CreatedAt:      time.Now().UTC(),
			Embedding:      embedding,
		})
	}

	if s.Memory != nil && pc.Normalized.Request.MemoryAutoPut && pc.UserID != "" && len(pc.Alternatives) > 0 {
		chosen := pc.Alternatives[0]
		text := chosen.Title
		if chosen.Description != "" {
			text += ": " + chosen.Description
		}
		if text != "" {
			// Auto-put is best-effort bookkeeping; a failure here must not
			// turn an already-computed decision into a pipeline error.
			_, _ = s.Memory.Put(ctx, pc.UserID, memory.KindEpisodic, text, map[string]any{
				"request_id":      pc.Normalized.Request.RequestID,
				"decision_status": string(pc.Gate.Status),
			})
		}
	}
	return nil
}

// finalizePayload is the TrustLog entry's payload for the "decide" stage:
// enough to reconstruct the decision's shape without duplicating the full
// response body (risk, status, chosen id, evidence/memory counts).
func finalizePayload(pc *Context) map[string]any {
	var chosenID string
	if len(pc.Alternatives) > 0 {
		chosenID = pc.Alternatives[0].ID
	}
	return map[string]any{
		"decision_status":   string(pc.Gate.Status),
		"risk":              pc.Gate.Risk,
		"policy_version":    pc.Gate.PolicyVersion,
		"chosen_id":         chosenID,
		"alternative_count": len(pc.Alternatives),
		"evidence_count":    len(pc.Evidence),
		"memory_used_count": len(pc.MemoryCitations),
		"degraded_stages":   pc.DegradedStages,
	}
}
