// Package session implements the Orchestrator: the central state machine
// (spec.md §4.9) that drives Route → Compact → Plan → Dispatch →
// Synthesize → Critique for one chat turn, emitting a typed event stream
// along the way and returning both a synchronous ChatResponse and the
// accumulated SessionTrace. Grounded on the teacher's internal/agents
// package (multi-stage pipeline owned by one coordinator, append-only
// activity log, graceful degradation at every stage boundary) generalized
// from its fixed research-agent pipeline to this spec's five-collaborator
// contract.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"agenticrag/internal/budget"
	"agenticrag/internal/compact"
	"agenticrag/internal/config"
	"agenticrag/internal/critic"
	"agenticrag/internal/events"
	"agenticrag/internal/persistence"
	"agenticrag/internal/plan"
	"agenticrag/internal/rag/embedder"
	"agenticrag/internal/retrieval"
	"agenticrag/internal/retryx"
	"agenticrag/internal/route"
	"agenticrag/internal/sessiontypes"
	"agenticrag/internal/summary"
	"agenticrag/internal/synthesize"
)

// Deps wires every collaborator the Orchestrator drives. Built once at
// startup in cmd/chatserver and shared across requests; Run's arguments
// carry the only state that varies per request.
type Deps struct {
	Router      route.Router
	Summarizer  compact.Summarizer
	Budgeter    *budget.Budgeter
	Embedder    embedder.Embedder // nil disables semantic summary selection and memory recall
	Planner     plan.Planner
	Dispatcher  *retrieval.Dispatcher
	Synthesizer synthesize.Synthesizer
	Critic      critic.Critic

	Chat     persistence.ChatStore
	Sessions persistence.SessionStore
	Memory   persistence.MemoryStore

	Config *config.Config
}

// Orchestrator runs one chat turn end to end per spec.md §4.9.
type Orchestrator struct {
	deps Deps
}

// New wraps every collaborator's Provider with the configured retry policy
// (spec.md §5: a shared retry/backoff policy applied to every external
// call) and returns a ready-to-use Orchestrator.
func New(d Deps) *Orchestrator {
	policy := retryx.FromConfig(d.Config.Retry)
	d.Router.Provider = wrapProvider(d.Router.Provider, policy, "router")
	d.Planner.Provider = wrapProvider(d.Planner.Provider, policy, "planner")
	d.Critic.Provider = wrapProvider(d.Critic.Provider, policy, "critic")
	d.Synthesizer.Provider = wrapProvider(d.Synthesizer.Provider, policy, "synthesizer")
	if ps, ok := d.Summarizer.(compact.ProviderSummarizer); ok {
		ps.Provider = wrapProvider(ps.Provider, policy, "compact")
		d.Summarizer = ps
	}
	return &Orchestrator{deps: d}
}

// resolved carries the per-session effective feature flags after applying
// spec.md §6.3's `request > persisted session > config default` priority.
type resolved struct {
	lazyRetrieval    bool
	intentRouting    bool
	semanticSummary  bool
	semanticMemory   bool
	criticThreshold  float64
	criticMaxRetries int
}

func (o *Orchestrator) resolveFeatures(ctx context.Context, sessionID string, req sessiontypes.FeatureOverrides) resolved {
	cfg := o.deps.Config
	var persisted sessiontypes.FeatureOverrides
	if o.deps.Sessions != nil {
		if p, ok, err := o.deps.Sessions.LoadFeatureOverrides(ctx, sessionID); err == nil && ok {
			persisted = p
		} else if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("load feature overrides")
		}
	}

	merged := persisted
	changed := false
	if req.EnableLazyRetrieval != nil {
		merged.EnableLazyRetrieval = req.EnableLazyRetrieval
		changed = true
	}
	if req.EnableIntentRouting != nil {
		merged.EnableIntentRouting = req.EnableIntentRouting
		changed = true
	}
	if req.EnableSemanticSummary != nil {
		merged.EnableSemanticSummary = req.EnableSemanticSummary
		changed = true
	}
	if req.EnableSemanticMemory != nil {
		merged.EnableSemanticMemory = req.EnableSemanticMemory
		changed = true
	}
	if req.CriticThreshold != nil {
		merged.CriticThreshold = req.CriticThreshold
		changed = true
	}
	if req.CriticMaxRetries != nil {
		merged.CriticMaxRetries = req.CriticMaxRetries
		changed = true
	}
	if changed && o.deps.Sessions != nil && sessionID != "" {
		if err := o.deps.Sessions.SaveFeatureOverrides(ctx, sessionID, merged); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("save feature overrides")
		}
	}

	return resolved{
		lazyRetrieval:    boolOr(merged.EnableLazyRetrieval, cfg.Features.EnableLazyRetrieval),
		intentRouting:    boolOr(merged.EnableIntentRouting, cfg.Features.EnableIntentRouting),
		semanticSummary:  boolOr(merged.EnableSemanticSummary, cfg.Features.EnableSemanticSummary),
		semanticMemory:   boolOr(merged.EnableSemanticMemory, cfg.Features.EnableSemanticMemory),
		criticThreshold:  floatOr(merged.CriticThreshold, cfg.Critic_.Threshold),
		criticMaxRetries: intOr(merged.CriticMaxRetries, cfg.Critic_.MaxRetries),
	}
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

// turn is the Orchestrator's private per-request scratch state. Only
// hydration is mutated in place after being recorded; everything else is
// replaced wholesale between stages (spec.md §4.2's ownership rule).
type turn struct {
	ctx      context.Context
	trace    sessiontypes.SessionTrace
	activity []sessiontypes.ActivityStep
	emitter  *events.Emitter
}

func (t *turn) emit(name sessiontypes.EventName, payload any) {
	ev := sessiontypes.Event{Name: name, Payload: payload}
	t.trace.Events = append(t.trace.Events, ev)
	if t.emitter != nil {
		t.emitter.Emit(t.ctx, ev)
	}
}

func (t *turn) status(stage string) {
	t.emit(sessiontypes.EventStatus, map[string]string{"stage": stage})
}

func (t *turn) recordActivity(steps ...sessiontypes.ActivityStep) {
	for _, s := range steps {
		if s.Timestamp.IsZero() {
			s.Timestamp = time.Now()
		}
		t.activity = append(t.activity, s)
		t.emit(sessiontypes.EventActivity, s)
	}
}

// Run drives one chat turn per spec.md §4.9's pseudocode contract. emitter
// may be nil for a caller that only wants the final ChatResponse (sync
// callers still get one constructed from the accumulated state); a
// streaming caller passes an emitter wired to an SSESink and should ignore
// the returned ChatResponse's Citations ordering guarantee only up to what
// already streamed.
func (o *Orchestrator) Run(ctx context.Context, req sessiontypes.ChatRequest, mode sessiontypes.SessionMode, emitter *events.Emitter) (sessiontypes.ChatResponse, sessiontypes.SessionTrace) {
	t := &turn{ctx: ctx, emitter: emitter}
	t.trace.SessionID = req.SessionID
	t.trace.Mode = mode
	t.trace.StartedAt = time.Now()

	question := lastUserMessage(req.Messages)
	if question == "" {
		t.trace.Error = "no user message in request"
		t.trace.CompletedAt = time.Now()
		t.emit(sessiontypes.EventError, map[string]string{"message": t.trace.Error, "code": "input"})
		if o.deps.Sessions != nil && req.SessionID != "" {
			if err := o.deps.Sessions.SaveTrace(ctx, t.trace); err != nil {
				log.Warn().Err(err).Str("session_id", req.SessionID).Msg("save session trace")
			}
		}
		t.emit(sessiontypes.EventDone, map[string]string{"status": "error"})
		return sessiontypes.ChatResponse{Answer: "I don't have enough information to answer that."}, t.trace
	}

	feat := o.resolveFeatures(ctx, req.SessionID, req.FeatureOverrides)
	cfg := o.deps.Config

	// Route
	t.status("routing")
	router := o.deps.Router
	router.Enabled = feat.intentRouting
	rd := router.Classify(ctx, req.Messages, cfg.Context.MaxRecentTurns)
	t.trace.Route = rd
	t.emit(sessiontypes.EventRoute, rd)

	// Semantic memory recall, folded into the Compactor's prior-salience
	// input. Non-fatal: a recall failure just means no recalled memory.
	priorSalience := o.recallMemory(ctx, feat, req.SessionID, question)

	// Compact
	t.status("compacting")
	compacted := o.compact(ctx, req.Messages, rd.Profile, feat, question, priorSalience)
	t.trace.ContextBudget = compacted.Budget
	t.emit(sessiontypes.EventContext, map[string]any{
		"history":  compacted.HistoryText,
		"summary":  compacted.SummaryText,
		"salience": compacted.SalienceText,
		"budget":   compacted.Budget,
	})

	// Plan
	t.status("planning")
	pl := o.deps.Planner.Plan(ctx, question, compacted, rd.Profile)
	t.trace.Plan = pl
	t.emit(sessiontypes.EventPlan, pl)

	// Escalate (once, before dispatch)
	wantWeb, escalationSteps := o.escalate(pl, rd.Profile, question)
	t.recordActivity(escalationSteps...)

	// Dispatch
	t.status("retrieving")
	dres := o.dispatch(ctx, pl, feat, wantWeb)
	t.trace.RetrievalDiagnostics = dres.Diagnostics
	t.recordActivity(dres.Activity...)
	emitToolEvents(t, pl, dres, wantWeb)

	citations := append(append([]sessiontypes.Reference(nil), dres.References...), dres.WebResults...)
	t.emit(sessiontypes.EventCitations, citations)

	contextText := joinNonEmpty(dres.ContextText, dres.WebContextText)

	// Synthesize + Critique loop
	draft, hydrationsPerformed := o.synthesizeAndCritique(ctx, t, question, contextText, citations, rd.Profile, feat, mode)

	validated, invalidIssue := validateCitations(draft, citations)
	if invalidIssue != "" {
		t.recordActivity(sessiontypes.ActivityStep{Type: "citation_invalid", Description: invalidIssue})
	}

	t.trace.CompletedAt = time.Now()

	resp := sessiontypes.ChatResponse{
		Answer:    validated,
		Citations: citations,
		Activity:  t.activity,
		Metadata: sessiontypes.ChatResponseMetadata{
			Plan:                 pl,
			Route:                rd,
			ContextBudget:        compacted.Budget,
			CritiqueHistory:      t.trace.CritiqueHistory,
			RetrievalDiagnostics: dres.Diagnostics,
		},
	}

	t.emit(sessiontypes.EventComplete, map[string]any{"answer": validated, "citations": citations})
	o.persistTurn(ctx, req.SessionID, question, validated, rd.Profile, feat, t.trace.CritiqueHistory)
	_ = hydrationsPerformed

	t.emit(sessiontypes.EventTelemetry, t.trace)
	t.emit(sessiontypes.EventTrace, t.trace)

	if o.deps.Sessions != nil && req.SessionID != "" {
		if err := o.deps.Sessions.SaveTrace(ctx, t.trace); err != nil {
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("save session trace")
		}
	}

	t.emit(sessiontypes.EventDone, map[string]string{"status": "complete"})
	return resp, t.trace
}

func lastUserMessage(msgs []sessiontypes.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == sessiontypes.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// recallMemory retrieves procedural/semantic/episodic memories similar to
// the question and folds them into prior salience candidates for Compact.
// A recall failure (disabled feature, nil embedder, nil store, provider
// error) is non-fatal per spec.md §7 and simply yields no prior salience.
func (o *Orchestrator) recallMemory(ctx context.Context, feat resolved, sessionID, question string) []sessiontypes.SalienceNote {
	if !feat.semanticMemory || o.deps.Memory == nil || o.deps.Embedder == nil {
		return nil
	}
	vecs, err := o.deps.Embedder.EmbedBatch(ctx, []string{question})
	if err != nil || len(vecs) == 0 {
		log.Warn().Err(err).Msg("embed question for memory recall")
		return nil
	}
	items, err := o.deps.Memory.Recall(ctx, vecs[0], sessionID, 5, 0.5)
	if err != nil {
		log.Warn().Err(err).Msg("recall semantic memory")
		return nil
	}
	notes := make([]sessiontypes.SalienceNote, 0, len(items))
	for _, it := range items {
		notes = append(notes, sessiontypes.SalienceNote{
			Fact:         fmt.Sprintf("[recalled %s] %s", it.Kind, it.Text),
			LastSeenTurn: 0,
		})
		_ = o.deps.Memory.Touch(ctx, it.ID)
	}
	return notes
}

func (o *Orchestrator) compact(ctx context.Context, history []sessiontypes.Message, profile sessiontypes.RoutingProfile, feat resolved, question string, priorSalience []sessiontypes.SalienceNote) sessiontypes.CompactedContext {
	cfg := o.deps.Config
	opt := compact.Options{
		MaxRecentTurns:   cfg.Context.MaxRecentTurns,
		MaxSummaryItems:  cfg.Context.MaxSummaryItems,
		MaxSalienceItems: cfg.Context.MaxSalienceItems,
		Model:            profile.ModelID,
		Caps: map[string]int{
			"history":  cfg.Context.HistoryTokenCap,
			"summary":  cfg.Context.SummaryTokenCap,
			"salience": cfg.Context.SalienceTokenCap,
		},
	}
	if feat.semanticSummary && o.deps.Embedder != nil {
		opt.Question = question
		opt.Selector = func(ctx context.Context, question string, candidates []sessiontypes.SummaryItem) []sessiontypes.SummaryItem {
			res := summary.Select(ctx, question, candidates, o.deps.Embedder, summary.Options{K: cfg.Context.MaxSummaryItems, SMin: 0})
			return res.Items
		}
	}
	compacted, err := compact.Compact(ctx, history, opt, o.deps.Summarizer, o.deps.Budgeter, nil, priorSalience)
	if err != nil {
		// Compact only returns an error for caller misuse (nil summarizer);
		// a production wiring never hits this, but degrade to raw recent
		// history rather than panic.
		log.Error().Err(err).Msg("compact context")
		return sessiontypes.CompactedContext{RecentMessages: history}
	}
	return compacted
}

// firstRetrievalAction mirrors retrieval.firstRetrievalStep (unexported in
// that package) closely enough to decide the escalation rules, which only
// need the action, not the full step.
func firstRetrievalAction(p sessiontypes.Plan) sessiontypes.PlanStepAction {
	for _, s := range p.Steps {
		if s.Action != sessiontypes.ActionAnswer {
			return s.Action
		}
	}
	return sessiontypes.ActionVectorSearch
}

// escalate implements spec.md §4.5's decision rules and §4.9's "escalate
// once, before dispatch" step.
func (o *Orchestrator) escalate(pl sessiontypes.Plan, profile sessiontypes.RoutingProfile, question string) (bool, []sessiontypes.ActivityStep) {
	esc := o.deps.Config.Escalation
	var wantWeb bool
	var steps []sessiontypes.ActivityStep

	if pl.Confidence < esc.ConfidenceEscalation && profile.RetrieverStrategy == sessiontypes.StrategyVector {
		wantWeb = true
		steps = append(steps, sessiontypes.ActivityStep{
			Type:        "confidence_escalation",
			Description: fmt.Sprintf("plan confidence %.2f below escalation threshold %.2f; upgrading vector-only retrieval to include web", pl.Confidence, esc.ConfidenceEscalation),
		})
	}
	if pl.Confidence < esc.ConfidenceDual && firstRetrievalAction(pl) == sessiontypes.ActionVectorSearch {
		wantWeb = true
		steps = append(steps, sessiontypes.ActivityStep{
			Type:        "confidence_dual",
			Description: fmt.Sprintf("plan confidence %.2f below dual-retrieval threshold %.2f; running web search alongside vector search", pl.Confidence, esc.ConfidenceDual),
		})
	}
	if matchesFreshness(question, esc.FreshnessKeywords) {
		wantWeb = true
		steps = append(steps, sessiontypes.ActivityStep{
			Type:        "freshness_escalation",
			Description: "question matched a freshness keyword; including web search",
		})
	}
	return wantWeb, steps
}

func matchesFreshness(question string, keywords []string) bool {
	q := strings.ToLower(question)
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(q, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) dispatch(ctx context.Context, pl sessiontypes.Plan, feat resolved, wantWeb bool) retrieval.Result {
	cfg := o.deps.Config
	opt := retrieval.Options{
		TopK:                      cfg.Retrieval.TopK,
		RerankerThreshold:         cfg.Retrieval.RerankerThreshold,
		FallbackRerankerThreshold: cfg.Retrieval.FallbackRerankerThreshold,
		MinDocs:                   cfg.Retrieval.MinDocs,
		LazyRetrieval:             feat.lazyRetrieval,
		WebContextMaxTokens:       cfg.Web.ContextMaxTokens,
		WebResultsMax:             cfg.Web.ResultsMax,
		WebMode:                   retrieval.WebMode(cfg.Web.SearchMode),
	}
	return o.deps.Dispatcher.Run(ctx, pl, opt, wantWeb)
}

// emitToolEvents emits one 'tool' event per collaborator the Dispatcher
// actually invoked, per spec.md §6.1's `tool {name, args, result-summary}`.
func emitToolEvents(t *turn, pl sessiontypes.Plan, dres retrieval.Result, wantWeb bool) {
	step := firstRetrievalAction(pl)
	wantsKB := step == sessiontypes.ActionVectorSearch || step == sessiontypes.ActionBoth
	wantsWeb := step == sessiontypes.ActionWebSearch || step == sessiontypes.ActionBoth || wantWeb

	if wantsKB {
		t.emit(sessiontypes.EventTool, map[string]any{
			"name":           "knowledge_search",
			"args":           map[string]any{"mode": string(dres.RetrievalMode)},
			"result_summary": fmt.Sprintf("%d references, succeeded=%v", len(dres.References), dres.Diagnostics.Succeeded),
		})
	}
	if wantsWeb {
		t.emit(sessiontypes.EventTool, map[string]any{
			"name":           "web_search",
			"args":           nil,
			"result_summary": fmt.Sprintf("%d web results", len(dres.WebResults)),
		})
	}
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

func citedIndices(text string) []int {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	seen := map[int]bool{}
	var out []int
	for _, m := range matches {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// validateCitations implements spec.md §7's citation-validation behavior
// for the final attempt: strip any `[k]` marker whose index is out of
// range or whose citation has no body, and report that as an issue string
// (empty if every marker was valid).
func validateCitations(answer string, citations []sessiontypes.Reference) (string, string) {
	var invalid []int
	for _, k := range citedIndices(answer) {
		if k < 1 || k > len(citations) || strings.TrimSpace(citations[k-1].EffectiveBody()) == "" {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) == 0 {
		return answer, ""
	}
	cleaned := answer
	for _, k := range invalid {
		cleaned = strings.ReplaceAll(cleaned, fmt.Sprintf("[%d]", k), "")
	}
	return cleaned, fmt.Sprintf("citation missing: marker(s) %v did not point to a populated citation and were stripped", invalid)
}

// synthesizeAndCritique runs the critic retry loop per spec.md §4.9: at
// most CRITIC_MAX_RETRIES+1 synthesis calls, lazy hydration of cited
// summary-only references before each revision, and stable citation
// numbering throughout.
func (o *Orchestrator) synthesizeAndCritique(ctx context.Context, t *turn, question, contextText string, citations []sessiontypes.Reference, profile sessiontypes.RoutingProfile, feat resolved, mode sessiontypes.SessionMode) (string, bool) {
	in := synthesize.Input{
		Question:  question,
		Context:   contextText,
		Citations: citations,
		Model:     profile.ModelID,
		MaxTokens: profile.MaxOutputTokens,
	}

	draft := o.generate(ctx, t, in, mode)
	hydrationsPerformed := false

	criticImpl := o.deps.Critic
	criticImpl.Threshold = feat.criticThreshold

	for attempt := 0; ; attempt++ {
		evidence := contextText
		report := criticImpl.Evaluate(ctx, draft, evidence, question, attempt == feat.criticMaxRetries)

		atCeiling := attempt == feat.criticMaxRetries
		if atCeiling && report.Action != sessiontypes.CriticAccept {
			report.Forced = true
		}

		t.trace.CritiqueHistory = append(t.trace.CritiqueHistory, sessiontypes.CritiqueAttempt{
			Attempt:         attempt,
			Coverage:        report.Coverage,
			Grounded:        report.Grounded,
			Action:          report.Action,
			Issues:          report.Issues,
			UsedFullContent: hydrationsPerformed,
			Forced:          report.Forced,
		})
		t.emit(sessiontypes.EventCritique, t.trace.CritiqueHistory[len(t.trace.CritiqueHistory)-1])

		if report.Action == sessiontypes.CriticAccept || atCeiling {
			break
		}

		if feat.lazyRetrieval {
			citedIDs := map[string]bool{}
			for _, k := range citedIndices(draft) {
				if k >= 1 && k <= len(citations) {
					citedIDs[citations[k-1].ID] = true
				}
			}
			anySummaryOnly := false
			for _, c := range citations {
				if citedIDs[c.ID] && !c.Hydrated && c.Hydrate != nil {
					anySummaryOnly = true
					break
				}
			}
			if anySummaryOnly && o.deps.Dispatcher != nil {
				hydrated, err := o.deps.Dispatcher.Hydrate(ctx, citations, func(r sessiontypes.Reference) bool {
					return citedIDs[r.ID] && !r.Hydrated
				})
				if err != nil {
					t.recordActivity(sessiontypes.ActivityStep{Type: "hydrate_error", Description: err.Error()})
				} else {
					citations = hydrated
					hydrationsPerformed = true
					t.recordActivity(sessiontypes.ActivityStep{Type: "hydrate", Description: "hydrated cited summary-only references for revision"})
				}
			}
		}

		in.RevisionNotes = report.Issues
		in.Citations = citations
		draft = o.generate(ctx, t, in, mode)
	}

	return draft, hydrationsPerformed
}

func (o *Orchestrator) generate(ctx context.Context, t *turn, in synthesize.Input, mode sessiontypes.SessionMode) string {
	if mode == sessiontypes.ModeStream {
		res, err := o.deps.Synthesizer.GenerateStream(ctx, in, func(delta string) {
			t.emit(sessiontypes.EventTokens, map[string]string{"content": delta})
		})
		if err != nil {
			t.recordActivity(sessiontypes.ActivityStep{Type: "synthesis_error", Description: err.Error()})
			return "I don't have enough information to answer that."
		}
		return res.Answer
	}
	res, err := o.deps.Synthesizer.Generate(ctx, in)
	if err != nil {
		t.recordActivity(sessiontypes.ActivityStep{Type: "synthesis_error", Description: err.Error()})
		return "I don't have enough information to answer that."
	}
	return res.Answer
}

// persistTurn appends the user/assistant exchange to the chat transcript
// store and, if the critic accepted the final draft, records it as a
// successful pattern in semantic memory. Both are best-effort: a failure
// here never fails the request (spec.md §7 treats persistence failures the
// same as any other non-fatal upstream issue).
func (o *Orchestrator) persistTurn(ctx context.Context, sessionID, question, answer string, profile sessiontypes.RoutingProfile, feat resolved, history []sessiontypes.CritiqueAttempt) {
	if sessionID == "" {
		return
	}
	if o.deps.Chat != nil {
		if _, err := o.deps.Chat.EnsureSession(ctx, nil, sessionID, ""); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("ensure chat session")
		} else {
			now := time.Now()
			msgs := []persistence.ChatMessage{
				{SessionID: sessionID, Role: "user", Content: question, CreatedAt: now},
				{SessionID: sessionID, Role: "assistant", Content: answer, CreatedAt: now},
			}
			if err := o.deps.Chat.AppendMessages(ctx, nil, sessionID, msgs, answer, profile.ModelID); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("append chat messages")
			}
		}
	}

	if !feat.semanticMemory || o.deps.Memory == nil || o.deps.Embedder == nil || len(history) == 0 {
		return
	}
	last := history[len(history)-1]
	if last.Action != sessiontypes.CriticAccept || last.Forced {
		return
	}
	vecs, err := o.deps.Embedder.EmbedBatch(ctx, []string{question})
	if err != nil || len(vecs) == 0 {
		return
	}
	if err := o.deps.Memory.AddSuccessfulPattern(ctx, sessionID, nil, question, answer, vecs[0]); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("record successful pattern")
	}
}
