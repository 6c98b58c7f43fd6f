// Package sessiontypes holds the data model shared by every stage of the
// chat orchestrator: messages, references, plans, routing profiles, context
// budgets, critic reports, activity, and the session trace. Stages accept
// and return these types rather than mutating shared state across calls.
package sessiontypes

import "time"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of the conversation. Immutable once constructed.
type Message struct {
	Role    Role
	Content string
}

// SourceTag identifies where a Reference came from.
type SourceTag string

const (
	SourceKB  SourceTag = "kb"
	SourceWeb SourceTag = "web"
)

// HydrateHandle is an opaque pointer to a reference's full body, resolved by
// the Retrieval Dispatcher's Hydrate operation rather than a captured
// closure, so References stay serialisable for telemetry.
type HydrateHandle struct {
	// Store names which backend resolves this handle ("s3", "inline", "").
	Store string
	// Key is the backend-specific lookup key (e.g. an S3 object key).
	Key string
}

// Reference is a single retrieved evidence item. Index is its stable 1-based
// citation position, fixed at first dispatch and never reassigned by
// revision (see DESIGN.md Open Question decisions).
type Reference struct {
	ID       string
	Title    string
	Body     string
	Summary  string
	URL      string
	Page     int
	Score    float64
	Source   SourceTag
	Hydrate  *HydrateHandle
	Index    int // ingest order, used as the tie-break key
	Hydrated bool
}

// EffectiveBody returns the body used for citation/grounding purposes: the
// full body if hydrated or never lazy, otherwise the summary.
func (r Reference) EffectiveBody() string {
	if r.Body != "" {
		return r.Body
	}
	return r.Summary
}

// PlanStepAction enumerates the actions a PlanStep may take.
type PlanStepAction string

const (
	ActionVectorSearch PlanStepAction = "vector_search"
	ActionWebSearch    PlanStepAction = "web_search"
	ActionBoth         PlanStepAction = "both"
	ActionAnswer       PlanStepAction = "answer"
)

// PlanStep is one step of a Plan.
type PlanStep struct {
	Action PlanStepAction
	Query  string
	K      int
}

// Plan is the Planner's structured output.
type Plan struct {
	Confidence float64
	Steps      []PlanStep
}

// RetrieverStrategy enumerates retrieval strategies a RoutingProfile may select.
type RetrieverStrategy string

const (
	StrategyVector    RetrieverStrategy = "vector"
	StrategyHybrid    RetrieverStrategy = "hybrid"
	StrategyHybridWeb RetrieverStrategy = "hybrid+web"
)

// Intent is the fixed set of classifications the Intent Router produces.
type Intent string

const (
	IntentFAQ           Intent = "faq"
	IntentFactual       Intent = "factual"
	IntentResearch      Intent = "research"
	IntentConversational Intent = "conversational"
)

// RoutingProfile configures model and retrieval behavior for one intent.
type RoutingProfile struct {
	ModelID          string
	MaxOutputTokens  int
	RetrieverStrategy RetrieverStrategy
}

// RouteDecision is the Intent Router's full result, including telemetry fields.
type RouteDecision struct {
	Intent     Intent
	Confidence float64
	Reasoning  string
	Profile    RoutingProfile
}

// ContextBudget records the token caps applied to compacted context.
type ContextBudget struct {
	HistoryTokens  int
	SummaryTokens  int
	SalienceTokens int
	WebTokens      int
}

// SalienceNote is a short durable fact extracted from conversation history.
type SalienceNote struct {
	Fact         string
	LastSeenTurn int
}

// SummaryItem summarizes a contiguous window of older turns.
type SummaryItem struct {
	Text      string
	TurnStart int
	TurnEnd   int
	Embedding []float32
}

// CompactedContext is the Context Compactor's output.
type CompactedContext struct {
	HistoryText     string
	SummaryText     string
	SalienceText    string
	RecentMessages  []Message
	Budget          ContextBudget
}

// CriticAction is the Critic's accept/revise decision.
type CriticAction string

const (
	CriticAccept CriticAction = "accept"
	CriticRevise CriticAction = "revise"
)

// CriticReport is the Critic's evaluation of a draft answer.
type CriticReport struct {
	Grounded bool
	Coverage float64
	Issues   []string
	Action   CriticAction
	Forced   bool
}

// CritiqueAttempt records one iteration of the critic loop.
type CritiqueAttempt struct {
	Attempt         int
	Coverage        float64
	Grounded        bool
	Action          CriticAction
	Issues          []string
	UsedFullContent bool
	Forced          bool
}

// ActivityStep is an append-only audit entry of a pipeline action.
type ActivityStep struct {
	Type        string
	Description string
	Timestamp   time.Time
}

// RetrievalMode enumerates the Dispatcher's retrieval mode.
type RetrievalMode string

const (
	ModeDirect        RetrievalMode = "direct"
	ModeLazy          RetrievalMode = "lazy"
	ModeKnowledgeAgent RetrievalMode = "knowledge_agent"
	ModeWebOnly       RetrievalMode = "web_only"
)

// RetrievalDiagnostics records tiered-retrieval outcome detail.
type RetrievalDiagnostics struct {
	Succeeded      bool
	FallbackReason string
	WebUnavailable bool
	TierTimingsMs  map[string]int64
}

// SessionMode distinguishes sync vs streaming responses.
type SessionMode string

const (
	ModeSync   SessionMode = "sync"
	ModeStream SessionMode = "stream"
)

// SessionTrace aggregates the full record of one session, persisted at the end.
type SessionTrace struct {
	SessionID           string
	Mode                SessionMode
	StartedAt           time.Time
	CompletedAt         time.Time
	Plan                Plan
	Route               RouteDecision
	ContextBudget       ContextBudget
	RetrievalDiagnostics RetrievalDiagnostics
	CritiqueHistory      []CritiqueAttempt
	Events               []Event
	Error                string
}

// EventName enumerates the typed event stream's event names.
type EventName string

const (
	EventStatus    EventName = "status"
	EventRoute     EventName = "route"
	EventPlan      EventName = "plan"
	EventContext   EventName = "context"
	EventTool      EventName = "tool"
	EventTokens    EventName = "tokens"
	EventCitations EventName = "citations"
	EventActivity  EventName = "activity"
	EventCritique  EventName = "critique"
	EventComplete  EventName = "complete"
	EventTelemetry EventName = "telemetry"
	EventTrace     EventName = "trace"
	EventDone      EventName = "done"
	EventError     EventName = "error"
)

// Event is one emitted item in the typed event stream.
type Event struct {
	Name    EventName
	Payload any
}

// ChatResponse is the synchronous endpoint's response shape.
type ChatResponse struct {
	Answer     string
	Citations  []Reference
	Activity   []ActivityStep
	Metadata   ChatResponseMetadata
}

// ChatResponseMetadata is the synchronous response's metadata bag.
type ChatResponseMetadata struct {
	Plan                 Plan
	Route                RouteDecision
	ContextBudget        ContextBudget
	CritiqueHistory      []CritiqueAttempt
	RetrievalDiagnostics RetrievalDiagnostics
}

// ChatRequest is the inbound request shape shared by the sync and streaming endpoints.
type ChatRequest struct {
	Messages        []Message
	SessionID       string
	FeatureOverrides FeatureOverrides
}

// FeatureOverrides is a struct of optional per-request flag overrides,
// resolved in priority order request > persisted session > config default.
type FeatureOverrides struct {
	EnableLazyRetrieval   *bool
	EnableIntentRouting   *bool
	EnableSemanticSummary *bool
	EnableSemanticMemory  *bool
	CriticThreshold       *float64
	CriticMaxRetries      *int
}
