// Package engine scores events end to end: it gathers the subject's profile
// and Store facts, runs extraction and rules, decides, records a case when
// needed and folds the event into the profile.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/signals"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

var tracer = otel.Tracer("kestrel-engine")

// Options wire an Engine. Store and Catalog are required.
type Options struct {
	Store    domain.Store
	Catalog  *rules.Catalog
	Reads    *velocity.Service
	Notifier domain.Notifier
	Engine   domain.EngineConfig
	Scoring  domain.ScoringConfig
	Logger   *slog.Logger
}

// Engine is safe for concurrent use. Events for different subjects run in
// parallel; events for the same subject and category are serialized.
type Engine struct {
	store        domain.Store
	catalog      *rules.Catalog
	reads        *velocity.Service
	extractor    *signals.Extractor
	evaluator    *rules.Evaluator
	processor    *decision.Processor
	updater      *profile.Updater
	recorder     *cases.Recorder
	locks        *keyedMutex
	timeout      time.Duration
	learningRate float64
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Catalog == nil {
		return nil, fmt.Errorf("%w: store and catalog are required", domain.ErrInvalidInput)
	}
	if err := opts.Scoring.Validate(); err != nil {
		return nil, err
	}
	loc, err := opts.Engine.Location()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lr := opts.Engine.LearningRate
	if lr <= 0 || lr > 1 {
		lr = 0.1
	}

	return &Engine{
		store:   opts.Store,
		catalog: opts.Catalog,
		reads:   opts.Reads,
		extractor: signals.New(signals.Options{
			Weights:         opts.Scoring.Weights,
			Location:        loc,
			DevelopmentMode: opts.Engine.DevelopmentMode,
		}),
		evaluator:    rules.NewEvaluator(loc),
		processor:    decision.NewProcessor(opts.Scoring.Thresholds),
		updater:      profile.NewUpdater(opts.Engine.History, loc),
		recorder:     cases.NewRecorder(opts.Store, opts.Notifier, opts.Engine.StoreTimeout, logger),
		locks:        newKeyedMutex(),
		timeout:      opts.Engine.StoreTimeout,
		learningRate: lr,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewOnboardingEvent builds the event for a registration attempt.
func NewOnboardingEvent(c domain.Candidate, req domain.RegistrationRequest, at time.Time) *domain.Event {
	return &domain.Event{
		Category:   domain.CategoryOnboarding,
		SubjectID:  c.UserID,
		OccurredAt: at,
		Onboarding: &domain.OnboardingContext{
			Email:             c.Email,
			Phone:             c.Phone,
			NationalID:        c.NationalID,
			DocumentRef:       c.DocumentRef,
			IPAddress:         req.IPAddress,
			DeviceFingerprint: req.DeviceFingerprint,
			UserAgent:         req.UserAgent,
			Interaction:       req.Interaction,
		},
	}
}

// NewLoginEvent builds the event for a login attempt.
func NewLoginEvent(userID string, lc domain.LoginContext, at time.Time) *domain.Event {
	return &domain.Event{
		Category:   domain.CategoryLogin,
		SubjectID:  userID,
		OccurredAt: at,
		Login:      &lc,
	}
}

// NewAccessEvent builds the event for a credential scan. The credential is
// the subject.
func NewAccessEvent(credentialID, readerID string, ac domain.AccessContext, at time.Time) *domain.Event {
	ac.CredentialID = credentialID
	ac.ReaderID = readerID
	return &domain.Event{
		Category:   domain.CategoryAccessScan,
		SubjectID:  credentialID,
		OccurredAt: at,
		Access:     &ac,
	}
}

// ScoreOnboarding scores a registration attempt happening now.
func (e *Engine) ScoreOnboarding(ctx context.Context, c domain.Candidate, req domain.RegistrationRequest) (*domain.Decision, error) {
	return e.Score(ctx, NewOnboardingEvent(c, req, e.now()))
}

// ScoreLogin scores a login attempt.
func (e *Engine) ScoreLogin(ctx context.Context, userID string, lc domain.LoginContext, at time.Time) (*domain.Decision, error) {
	return e.Score(ctx, NewLoginEvent(userID, lc, at))
}

// ScoreAccessRead scores a credential scan at a reader.
func (e *Engine) ScoreAccessRead(ctx context.Context, credentialID, readerID string, ac domain.AccessContext, at time.Time) (*domain.Decision, error) {
	return e.Score(ctx, NewAccessEvent(credentialID, readerID, ac, at))
}

// Score runs the full pipeline for ev. Only invalid input is an error:
// Store and Notifier failures degrade the decision but never replace it.
func (e *Engine) Score(ctx context.Context, ev *domain.Event) (*domain.Decision, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: event is required", domain.ErrInvalidInput)
	}
	if err := ev.Validate(); err != nil {
		metrics.ScoringErrors.WithLabelValues(categoryLabel(ev.Category)).Inc()
		return nil, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Score",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("event.category", string(ev.Category)),
		),
	)
	defer span.End()

	unlock := e.locks.Lock(string(ev.Category) + ":" + ev.SubjectID)
	defer unlock()

	prof, degraded := e.loadProfile(ctx, ev)
	lookups := e.gatherLookups(ctx, ev)

	out := e.assess(ev, prof, lookups, degraded)
	d := out.Decision

	caseID, err := e.recorder.Record(ctx, ev, out)
	if err != nil {
		span.RecordError(err)
	}
	d.CaseID = caseID

	e.commit(ctx, ev, prof, degraded)

	category := string(ev.Category)
	metrics.EventsScored.WithLabelValues(category, string(d.Action)).Inc()
	metrics.RiskScore.WithLabelValues(category).Observe(d.RiskScore)
	metrics.ScoringDuration.WithLabelValues(category).Observe(float64(time.Since(start).Microseconds()) / 1000)
	for _, ind := range d.Indicators {
		name := ind.Name
		if ind.Source == domain.SourceRule {
			name = ind.RuleID
		}
		metrics.IndicatorsFired.WithLabelValues(string(ind.Source), name).Inc()
	}

	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.Float64("decision.risk_score", d.RiskScore),
		attribute.Bool("decision.degraded", d.Degraded),
	)
	if d.Degraded {
		span.SetStatus(codes.Error, "profile unavailable")
	}

	e.logger.Debug("event scored",
		"user_id", ev.SubjectID,
		"category", ev.Category,
		"action", d.Action,
		"risk_score", d.RiskScore,
		"indicators", len(d.Indicators),
		"case_id", d.CaseID,
	)

	return &d, nil
}

// assess is the pure part of scoring: the same event, profile, lookups and
// catalog snapshot always give the same outcome.
func (e *Engine) assess(ev *domain.Event, prof *domain.BehaviorProfile, lookups signals.Lookups, degraded bool) *decision.Outcome {
	extracted := e.extractor.Extract(ev, prof, lookups)
	matches := e.evaluator.Evaluate(ev, e.catalog.Snapshot(), prof)
	return e.processor.Process(&decision.Input{
		Category:     ev.Category,
		Extracted:    extracted,
		Matches:      matches,
		Profile:      prof,
		LookupFailed: lookups.Onboarding.Failed,
		Degraded:     degraded,
	})
}

// loadProfile returns the subject's profile. A missing profile is a new
// one; an unreadable profile is an empty one with degraded set.
func (e *Engine) loadProfile(ctx context.Context, ev *domain.Event) (*domain.BehaviorProfile, bool) {
	p, err := e.getProfile(ctx, ev)
	if err == nil {
		return p, false
	}

	metrics.StoreFailures.WithLabelValues("get_profile").Inc()
	metrics.DegradedDecisions.WithLabelValues(string(ev.Category)).Inc()
	e.logger.Warn("profile unavailable, scoring without history",
		"user_id", ev.SubjectID,
		"category", ev.Category,
		"error", err,
	)
	return domain.NewProfile(ev.SubjectID, ev.Category, e.learningRate), true
}

func (e *Engine) getProfile(ctx context.Context, ev *domain.Event) (*domain.BehaviorProfile, error) {
	var p *domain.BehaviorProfile
	err := e.call(ctx, func(ctx context.Context) (err error) {
		p, err = e.store.GetProfile(ctx, ev.SubjectID, ev.Category)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewProfile(ev.SubjectID, ev.Category, e.learningRate), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return p, nil
}

// commit writes everything the event teaches: the updated profile (unless
// the read failed) and the category's side records. Failures are logged.
func (e *Engine) commit(ctx context.Context, ev *domain.Event, prof *domain.BehaviorProfile, degraded bool) {
	if !degraded {
		if err := e.saveProfile(ctx, ev, prof); err != nil {
			metrics.StoreFailures.WithLabelValues("save_profile").Inc()
			e.logger.Warn("failed to save profile", "user_id", ev.SubjectID, "category", ev.Category, "error", err)
		}
	}

	switch ev.Category {
	case domain.CategoryOnboarding:
		e.recordOnboarding(ctx, ev)
	case domain.CategoryAccessScan:
		if e.reads == nil {
			return
		}
		if err := e.call(ctx, func(ctx context.Context) error {
			_, err := e.reads.RecordRead(ctx, credentialOf(ev), ev.OccurredAt)
			return err
		}); err != nil {
			metrics.StoreFailures.WithLabelValues("record_read").Inc()
			e.logger.Warn("failed to count read", "credential_id", credentialOf(ev), "error", err)
		}
	}
}

// saveProfile folds ev into prof and saves it. On a version conflict the
// update is re-applied once to the stored profile; the event is not
// re-scored.
func (e *Engine) saveProfile(ctx context.Context, ev *domain.Event, prof *domain.BehaviorProfile) error {
	now := e.now()
	next := e.updater.Update(prof, ev, now)
	err := e.call(ctx, func(ctx context.Context) error {
		return e.store.SaveProfile(ctx, next)
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		return err
	}

	fresh, err := e.getProfile(ctx, ev)
	if err != nil {
		return err
	}
	next = e.updater.Update(fresh, ev, now)
	return e.call(ctx, func(ctx context.Context) error {
		return e.store.SaveProfile(ctx, next)
	})
}

func (e *Engine) recordOnboarding(ctx context.Context, ev *domain.Event) {
	o := ev.Onboarding
	at := ev.OccurredAt.UTC()
	for _, id := range identities(o) {
		if err := e.call(ctx, func(ctx context.Context) error {
			return e.store.RecordIdentity(ctx, ev.SubjectID, id.field, id.value, at)
		}); err != nil {
			metrics.StoreFailures.WithLabelValues("record_identity").Inc()
			e.logger.Warn("failed to record identity", "user_id", ev.SubjectID, "field", id.field, "error", err)
		}
	}
	if o.DeviceFingerprint == "" {
		return
	}
	if err := e.call(ctx, func(ctx context.Context) error {
		return e.store.RecordDevice(ctx, o.DeviceFingerprint, ev.SubjectID, at)
	}); err != nil {
		metrics.StoreFailures.WithLabelValues("record_device").Inc()
		e.logger.Warn("failed to record device", "user_id", ev.SubjectID, "error", err)
	}
}

// call bounds one Store call by the configured timeout.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	if e.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return fn(ctx)
}

func categoryLabel(c domain.Category) string {
	if c.Valid() {
		return string(c)
	}
	return "unknown"
}
