// Package veritas wires the six core subsystems (atomic-I/O substrate,
// TrustLog, Memory, ValueCore, FUJI gate, pipeline orchestrator) into one
// process-scoped Service, the single object an out-of-scope HTTP
// transport, CLI, or MCP server would depend on (spec.md §1's "named
// interfaces only" boundary; grounded on the teacher's
// internal/service/decisions.Service construction pattern).
package veritas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/auth"
	"github.com/veritas-os/veritas/internal/capability"
	"github.com/veritas-os/veritas/internal/config"
	"github.com/veritas-os/veritas/internal/errs"
	"github.com/veritas-os/veritas/internal/fuji"
	"github.com/veritas-os/veritas/internal/llmclient"
	"github.com/veritas-os/veritas/internal/memory"
	"github.com/veritas-os/veritas/internal/outbox"
	"github.com/veritas-os/veritas/internal/pgmirror"
	"github.com/veritas-os/veritas/internal/pipeline"
	"github.com/veritas-os/veritas/internal/schema"
	"github.com/veritas-os/veritas/internal/trustlog"
	"github.com/veritas-os/veritas/internal/valuecore"
)

// Service is the process-scoped application object: every dependency a
// transport layer needs, already wired, with no global mutable state
// (spec.md §9's "global mutable singletons" redesign note).
type Service struct {
	cfg config.Config
	log *slog.Logger

	Manifest capability.Manifest

	Memory       *memory.Store
	FujiStore    *fuji.Store
	Gate         *fuji.Gate
	TrustLog     *trustlog.Log
	ValueCore    *valuecore.Tracker
	Orchestrator *pipeline.Orchestrator
	Outbox       *outbox.Worker
	Tokens       *auth.TokenIssuer

	autoStop *fuji.AutoStopBreaker
}

// New constructs a Service from cfg, opening every on-disk subsystem
// rooted at cfg.DataDir and wiring the capability manifest from whichever
// optional providers cfg actually configures (spec.md §9: "populated at
// startup from explicit configuration flags", never import-time
// failure).
func New(cfg config.Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}

	trustDir := filepath.Join(cfg.DataDir, "trustlog")
	memDir := filepath.Join(cfg.DataDir, "memory")
	valueDir := filepath.Join(cfg.DataDir, "valuecore")
	policyPath := filepath.Join(cfg.DataDir, "policy", "fuji_policy.json")

	tlog, err := trustlog.Open(trustDir, 0)
	if err != nil {
		return nil, fmt.Errorf("veritas: open trust log: %w", err)
	}

	fujiStore, err := fuji.NewStore(policyPath, log)
	if err != nil {
		return nil, fmt.Errorf("veritas: load fuji policy: %w", err)
	}

	var safetyHead fuji.LLMSafetyHeadScorer // optional; nil unless a provider wires one in later
	gate := fuji.NewGate(fujiStore, safetyHead)

	embedder := resolveEmbedder(cfg)
	memStore, err := memory.Open(memDir, embedder, cfg.MemoryMaxRecordsPerUser)
	if err != nil {
		return nil, fmt.Errorf("veritas: open memory store: %w", err)
	}
	if cfg.QdrantURL != "" {
		ann, annErr := memory.NewANNIndex(memory.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions),
		}, log)
		if annErr != nil {
			log.Warn("veritas: qdrant ann tier unavailable, falling back to flat index", slog.Any("error", annErr))
		} else if ensureErr := ann.EnsureCollection(context.Background()); ensureErr != nil {
			log.Warn("veritas: qdrant collection setup failed, falling back to flat index", slog.Any("error", ensureErr))
		} else {
			memStore.SetANNIndex(ann)
		}
	}

	tracker, err := valuecore.NewTracker(valueDir, valuecore.DefaultEMAAlpha)
	if err != nil {
		return nil, fmt.Errorf("veritas: open value core tracker: %w", err)
	}

	mirror, mirrorErr := pgmirror.Open(context.Background(), cfg.DatabaseURL, cfg.DataDir, log)
	if mirrorErr != nil {
		log.Warn("veritas: decision mirror unavailable, continuing without it", slog.Any("error", mirrorErr))
		mirror = nil
	}
	outboxWorker := outbox.NewWorker(mirror, log)
	outboxWorker.Start(context.Background())

	tokens := auth.NewTokenIssuer(cfg.APISecret)

	chat := resolveChatCompleter(cfg)

	manifest := capability.Manifest{
		ChatCompleter:  chat != nil,
		WebSearch:      false, // web search has no wired provider in this deployment
		LLMSafetyHead:  safetyHead != nil,
		Embedder:       cfg.EmbeddingProvider != "noop",
		ExternalANN:    cfg.QdrantURL != "",
		PostgresMirror: cfg.DatabaseURL != "",
	}
	log.Info("veritas: capability manifest", slog.String("manifest", manifest.String()))

	orch := &pipeline.Orchestrator{
		Normalize: pipeline.NormalizeStage{},
		Plan:      pipeline.PlanStage{Chat: chat},
		Evidence:  pipeline.CollectEvidenceStage{Memory: memStore, Web: nil},
		Critique:  pipeline.CritiqueStage{Chat: chat},
		Debate:    pipeline.DebateStage{Chat: chat},
		Score:     pipeline.ScoreStage{Tracker: tracker},
		Gate:      pipeline.GateStage{Gate: gate},
		Finalize:  pipeline.FinalizeStage{Log: tlog, Memory: memStore, Outbox: outboxWorker},
		AutoStop:  &fuji.AutoStopBreaker{},
		Log:       log,
	}

	return &Service{
		cfg:          cfg,
		log:          log,
		Manifest:     manifest,
		Memory:       memStore,
		FujiStore:    fujiStore,
		Gate:         gate,
		TrustLog:     tlog,
		ValueCore:    tracker,
		Orchestrator: orch,
		Outbox:       outboxWorker,
		Tokens:       tokens,
		autoStop:     orch.AutoStop,
	}, nil
}

// Shutdown drains the decision-mirror outbox before the process exits,
// giving in-flight mirror writes (not the decision response, which has
// already been returned) a chance to complete.
func (s *Service) Shutdown(ctx context.Context) {
	if s.Outbox != nil {
		s.Outbox.Drain(ctx)
	}
}

func resolveEmbedder(cfg config.Config) memory.Embedder {
	switch cfg.EmbeddingProvider {
	case "openai":
		return llmclient.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	default:
		return memory.NewNoopEmbedder(cfg.EmbeddingDimensions)
	}
}

func resolveChatCompleter(cfg config.Config) llmclient.ChatCompleter {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil
		}
		return llmclient.NewAnthropicClient(cfg.AnthropicKey, cfg.LLMModel, cfg.LLMTimeout, cfg.LLMMaxRetries)
	default:
		return nil
	}
}

// Decide runs the pipeline orchestrator end to end. raw is the original
// decoded JSON object (before struct typing), needed by the coercion
// layer to detect extra keys.
func (s *Service) Decide(ctx context.Context, req schema.DecideRequest, raw map[string]any) schema.DecideResponse {
	return s.Orchestrator.Decide(ctx, req, raw)
}

// ValidateGate runs only the FUJI gate over text, for the governance-only
// `/v1/fuji/validate` surface (spec.md §6) without running the full
// decision pipeline.
func (s *Service) ValidateGate(text string) fuji.Verdict {
	v := s.Gate.Evaluate(text)
	if s.autoStop != nil {
		s.autoStop.Observe(v, s.Gate.CurrentPolicy())
	}
	return v
}

// GetPolicy returns the live FujiPolicy snapshot.
func (s *Service) GetPolicy() fuji.Policy {
	return s.FujiStore.Current()
}

// UpdatePolicy validates and atomically persists a new FujiPolicy, then
// appends a governance_policy_updated TrustLog entry so the audit trail
// shows policy changes in the same chain as decisions (spec.md §8,
// scenario S3).
func (s *Service) UpdatePolicy(updatedBy string, p fuji.Policy) error {
	if p.UpdatedAt == "" {
		p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	p.UpdatedBy = updatedBy
	if err := s.FujiStore.UpdatePolicy(p); err != nil {
		return err
	}
	payload := map[string]any{
		"version":    p.Version,
		"updated_by": updatedBy,
	}
	logID := uuid.New().String()
	if _, err := s.TrustLog.Append(logID, logID, "governance_policy_updated", payload); err != nil {
		s.log.Warn("veritas: failed to log policy update", slog.Any("error", err))
	}
	return nil
}

// UpdatePolicyPatch merges patch onto the live policy (only patch's
// non-zero fields override) and persists the result, for a governance
// caller that wants to change one or two fields without resending the
// entire FujiPolicy document.
func (s *Service) UpdatePolicyPatch(updatedBy string, patch fuji.Policy) (fuji.Policy, error) {
	merged, err := fuji.MergePolicyPatch(s.GetPolicy(), patch)
	if err != nil {
		return fuji.Policy{}, err
	}
	if err := s.UpdatePolicy(updatedBy, merged); err != nil {
		return fuji.Policy{}, err
	}
	return merged, nil
}

// ValueDrift returns userID's current EMA drift report (§6
// `/v1/governance/value-drift`).
func (s *Service) ValueDrift(userID string) (valuecore.DriftReport, error) {
	return s.ValueCore.Current(userID)
}

// MemoryPut persists one memory record, deriving the authoritative
// userID from the caller's principal, never the request body (spec.md
// §4.4's ownership invariant — callers MUST pass the authenticated
// principal, not a client-supplied field).
func (s *Service) MemoryPut(ctx context.Context, userID string, kind memory.Kind, text string, metadata map[string]any) (uuid.UUID, error) {
	return s.Memory.Put(ctx, userID, kind, text, metadata)
}

// MemoryGet returns one record, enforcing ownership.
func (s *Service) MemoryGet(userID string, id uuid.UUID) (memory.Record, error) {
	return s.Memory.Get(userID, id)
}

// MemorySearch runs a similarity search scoped to userID.
func (s *Service) MemorySearch(ctx context.Context, userID, query string, k int, kinds []memory.Kind) ([]memory.Record, error) {
	return s.Memory.Search(ctx, userID, query, k, kinds)
}

// TrustLogsByRequestID returns the audit trail for one request, with its
// chain-verification verdict (§6 `/v1/trust/logs/by-request/{id}`).
func (s *Service) TrustLogsByRequestID(requestID string) (trustlog.RequestRecord, error) {
	return s.TrustLog.GetByRequestID(requestID)
}

// VerifyTrustLog re-hashes the entire chain and reports the first
// divergence, if any (§4.3's VerifyChain, exposed for an operational
// CLI or `/v1/trust/verify` collaborator).
func (s *Service) VerifyTrustLog() (trustlog.VerifyResult, error) {
	return trustlog.VerifyChain(filepath.Join(s.cfg.DataDir, "trustlog"))
}

// Health returns a JSON-serializable liveness/capability summary for the
// out-of-scope `/health` endpoint (spec.md §9: "emit the manifest in
// /health for operational visibility").
func (s *Service) Health() map[string]any {
	policy := s.GetPolicy()
	return map[string]any{
		"ok":              true,
		"capabilities":    s.Manifest,
		"policy_version":  policy.Version,
		"auto_stop_armed": policy.AutoStop.Enabled,
	}
}

// MarshalHealthJSON renders Health() as compact JSON, a convenience for
// an out-of-scope transport that just needs bytes to write to a response.
func (s *Service) MarshalHealthJSON() ([]byte, error) {
	b, err := json.Marshal(s.Health())
	if err != nil {
		return nil, errs.New(errs.KindInternal, "veritas: marshal health", err)
	}
	return b, nil
}
