// Package ingest assembles audit events from request context and hands them
// to the pipeline without awaiting persistence. Nothing in this package ever
// returns an error to the request path; malformed input is logged and the
// event discarded.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unicode/utf8"

	"github.com/mssola/useragent"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/pkg/requestcontext"
)

// unknownValue is recorded when client metadata cannot be extracted.
const unknownValue = "unknown"

// Sink accepts assembled events. The pipeline satisfies this.
type Sink interface {
	Log(ctx context.Context, ev audit.Event)
}

// Adapter builds well-formed events from context and enqueues them.
type Adapter struct {
	sink   Sink
	cfg    *config.Manager
	logger *slog.Logger
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an ingestion adapter.
func New(sink Sink, cfg *config.Manager, opts ...Option) (*Adapter, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	a := &Adapter{
		sink:   sink,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Record assembles one terminal audit event for an observed action and hands
// it to the sink. It is synchronous but never blocks on persistence, and
// never propagates failures to the caller.
func (a *Adapter) Record(ctx context.Context, action audit.Action, resourceType, resourceID string, success bool, details map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "audit event construction panicked, event discarded",
				"action", action,
				"resource_type", resourceType,
				"panic", r,
			)
		}
	}()

	ev := a.build(ctx, action, resourceType, resourceID, success, details)
	if err := ev.Validate(); err != nil {
		a.logger.WarnContext(ctx, "malformed audit event discarded",
			"action", action,
			"resource_type", resourceType,
			"error", err,
		)
		return
	}
	a.sink.Log(ctx, ev)
}

func (a *Adapter) build(ctx context.Context, action audit.Action, resourceType, resourceID string, success bool, details map[string]any) audit.Event {
	ip := requestcontext.ClientIP(ctx)
	if ip == "" {
		ip = unknownValue
	}
	ua := requestcontext.UserAgent(ctx)
	if ua == "" {
		ua = unknownValue
	}

	details = enrichClient(details, ua)
	details = truncateDetails(details, a.cfg.Get().MaxDetailsSize)

	return audit.Event{
		ActorID:      requestcontext.ActorID(ctx),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      success,
		IPAddress:    ip,
		UserAgent:    ua,
		Details:      details,
		EnqueuedAt:   requestcontext.Now(ctx),
	}
}

// enrichClient adds a parsed browser/OS summary so reports don't need to
// re-parse raw user-agent strings.
func enrichClient(details map[string]any, rawUA string) map[string]any {
	if rawUA == unknownValue {
		return details
	}
	parsed := useragent.New(rawUA)
	name, version := parsed.Browser()
	if name == "" && parsed.OS() == "" {
		return details
	}
	if details == nil {
		details = make(map[string]any, 1)
	}
	client := map[string]any{}
	if name != "" {
		client["browser"] = name
		if version != "" {
			client["browser_version"] = version
		}
	}
	if os := parsed.OS(); os != "" {
		client["os"] = os
	}
	details["client"] = client
	return details
}

// truncateDetails caps the serialized payload size. Oversized payloads are
// truncated, never dropped wholesale. The replacement map honors the cap too:
// the excerpt shrinks until the wrapper, including JSON escaping, fits.
func truncateDetails(details map[string]any, maxSize int) map[string]any {
	if len(details) == 0 || maxSize <= 0 {
		return details
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	if len(raw) <= maxSize {
		return details
	}

	keep := maxSize
	for keep > 0 {
		keep = runeBoundary(raw, keep)
		wrapped := map[string]any{
			"truncated":     true,
			"original_size": len(raw),
			"payload":       string(raw[:keep]),
		}
		enc, err := json.Marshal(wrapped)
		if err == nil && len(enc) <= maxSize {
			return wrapped
		}
		keep -= len(enc) - maxSize
	}
	return map[string]any{"truncated": true, "original_size": len(raw)}
}

// runeBoundary backs n off to the start of a UTF-8 sequence so the excerpt
// never splits a rune.
func runeBoundary(b []byte, n int) int {
	for n > 0 && n < len(b) && !utf8.RuneStart(b[n]) {
		n--
	}
	return n
}

// Recorder captures exactly one terminal log per observed request/action
// pair: whichever of Success or Failure fires first wins, later calls are
// no-ops.
type Recorder struct {
	adapter      *Adapter
	action       audit.Action
	resourceType string
	resourceID   string
	done         atomic.Bool
}

// Begin starts tracking the outcome of one action.
func (a *Adapter) Begin(action audit.Action, resourceType, resourceID string) *Recorder {
	return &Recorder{
		adapter:      a,
		action:       action,
		resourceType: resourceType,
		resourceID:   resourceID,
	}
}

// Success records a successful terminal outcome.
func (r *Recorder) Success(ctx context.Context, details map[string]any) {
	r.record(ctx, true, details)
}

// Failure records a failed terminal outcome.
func (r *Recorder) Failure(ctx context.Context, details map[string]any) {
	r.record(ctx, false, details)
}

func (r *Recorder) record(ctx context.Context, success bool, details map[string]any) {
	if !r.done.CompareAndSwap(false, true) {
		return
	}
	r.adapter.Record(ctx, r.action, r.resourceType, r.resourceID, success, details)
}
