// Package permission evaluates a plugin's declared capabilities against
// stored grants, trust directives, the active strategy and, as a last
// resort, the user.
package permission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
	"github.com/wasmcmd-dev/wasmcmd/domain/policy"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// evaluatorConfig holds configuration for the Evaluator.
type evaluatorConfig struct {
	strategy     ports.Strategy
	store        ports.GrantStore
	prompter     ports.Prompter
	audit        ports.AuditSink
	trust        TrustDirectives
	logger       *zap.Logger
	now          func() time.Time
	onEscalation func(subject string)
}

// EvaluatorOption configures an Evaluator instance.
type EvaluatorOption func(*evaluatorConfig)

// WithPrompter sets the prompter used for OutcomePrompt rulings.
// Without one, prompts resolve to deny.
func WithPrompter(p ports.Prompter) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.prompter = p
	}
}

// WithAuditSink sets the sink receiving one event per ruling.
func WithAuditSink(sink ports.AuditSink) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.audit = sink
	}
}

// WithTrustDirectives pre-authorizes plugins and commands for the
// session.
func WithTrustDirectives(t TrustDirectives) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.trust = t
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.logger = logger
	}
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.now = now
	}
}

// WithEscalationHook registers a callback invoked when a plugin's
// capability set no longer matches the hash its grants were issued
// under.
func WithEscalationHook(fn func(subject string)) EvaluatorOption {
	return func(c *evaluatorConfig) {
		c.onEscalation = fn
	}
}

// Evaluator resolves capability requests. Stored grants win over the
// strategy; the strategy may defer to the prompter; every ruling is
// audited. An Evaluator is safe for concurrent use.
type Evaluator struct {
	config evaluatorConfig

	mu      sync.Mutex
	session map[entities.DecisionKey]entities.Decision
}

// NewEvaluator creates an Evaluator for the given strategy and store.
func NewEvaluator(strategy ports.Strategy, store ports.GrantStore, opts ...EvaluatorOption) *Evaluator {
	cfg := evaluatorConfig{
		strategy: strategy,
		store:    store,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Evaluator{
		config:  cfg,
		session: map[entities.DecisionKey]entities.Decision{},
	}
}

// Evaluate checks every capability the manifest declares before a
// command runs. command is the invoked command name, used by trust
// directives. It returns nil when everything is granted, or the first
// CapabilityDeniedError otherwise.
func (e *Evaluator) Evaluate(ctx context.Context, subject, command string, caps entities.Capabilities) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caps.IsEmpty() {
		return nil
	}
	if err := e.checkEscalation(ctx, subject, caps); err != nil {
		return err
	}
	for _, req := range caps.Requests() {
		if err := e.resolve(ctx, subject, command, req); err != nil {
			return err
		}
	}
	return nil
}

// checkEscalation compares the manifest's capability hash with the one
// its stored grants were issued under. On mismatch every stored grant
// for the subject is revoked so the user decides again.
func (e *Evaluator) checkEscalation(ctx context.Context, subject string, caps entities.Capabilities) error {
	hash := caps.Hash()
	stored, ok, err := e.config.store.SubjectHash(ctx, subject)
	if err != nil {
		return err
	}
	if ok && stored == hash {
		return nil
	}
	if ok {
		e.config.logger.Warn("plugin capability set changed, revoking grants",
			zap.String("plugin", subject))
		if err := e.config.store.DropSubject(ctx, subject); err != nil {
			return err
		}
		for key := range e.session {
			if key.Subject == subject {
				delete(e.session, key)
			}
		}
		if e.config.onEscalation != nil {
			e.config.onEscalation(subject)
		}
	}
	return e.config.store.SetSubjectHash(ctx, subject, hash)
}

func (e *Evaluator) resolve(ctx context.Context, subject, command string, req entities.CapabilityRequest) error {
	key := entities.DecisionKey{Subject: subject, Kind: req.Kind, Pattern: req.Pattern}

	if e.config.trust.Covers(subject, command) {
		e.record(ctx, subject, req, entities.VerdictAllow, ports.SourceTrust)
		return nil
	}

	if d, ok := e.session[key]; ok {
		e.record(ctx, subject, req, d.Verdict, ports.SourceStored)
		return e.verdictErr(subject, req, d.Verdict, "denied earlier this session")
	}

	d, ok, err := e.config.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		e.record(ctx, subject, req, d.Verdict, ports.SourceStored)
		return e.verdictErr(subject, req, d.Verdict, "denied by stored grant")
	}

	// No exact decision; a wider grant may still subsume the request,
	// e.g. "./data/**" covering "./data/config.json".
	d, ok, err = e.coveringDecision(ctx, subject, req)
	if err != nil {
		return err
	}
	if ok {
		e.record(ctx, subject, req, d.Verdict, ports.SourceStored)
		return e.verdictErr(subject, req, d.Verdict, "denied by covering grant")
	}

	switch e.config.strategy.Decide(ctx, subject, req) {
	case ports.OutcomeAllowSession:
		e.session[key] = e.decision(subject, req, entities.VerdictAllow, entities.ScopeSession)
		e.record(ctx, subject, req, entities.VerdictAllow, ports.SourceStrategy)
		return nil
	case ports.OutcomeAllowPersist:
		if err := e.config.store.Put(ctx, e.decision(subject, req, entities.VerdictAllow, entities.ScopePersistent)); err != nil {
			return err
		}
		e.record(ctx, subject, req, entities.VerdictAllow, ports.SourceStrategy)
		return nil
	case ports.OutcomePrompt:
		return e.prompt(ctx, subject, req, key)
	default:
		e.record(ctx, subject, req, entities.VerdictDeny, ports.SourceStrategy)
		return e.denied(subject, req, "denied by "+e.config.strategy.Name()+" strategy")
	}
}

// coveringDecision scans session and stored decisions for one whose
// pattern subsumes the requested one. A covering deny beats a covering
// allow.
func (e *Evaluator) coveringDecision(ctx context.Context, subject string, req entities.CapabilityRequest) (entities.Decision, bool, error) {
	stored, err := e.config.store.List(ctx)
	if err != nil {
		return entities.Decision{}, false, err
	}
	candidates := make([]entities.Decision, 0, len(e.session)+len(stored))
	for _, d := range e.session {
		candidates = append(candidates, d)
	}
	candidates = append(candidates, stored...)

	var allow entities.Decision
	var haveAllow bool
	for _, d := range candidates {
		if d.Subject != subject || d.Kind != req.Kind || d.Pattern == req.Pattern {
			continue
		}
		if !policy.Covers(d.Pattern, req.Pattern) {
			continue
		}
		if d.Verdict == entities.VerdictDeny {
			return d, true, nil
		}
		allow, haveAllow = d, true
	}
	return allow, haveAllow, nil
}

func (e *Evaluator) prompt(ctx context.Context, subject string, req entities.CapabilityRequest, key entities.DecisionKey) error {
	if e.config.prompter == nil || !e.config.prompter.Interactive() {
		e.record(ctx, subject, req, entities.VerdictDeny, ports.SourcePrompt)
		return e.denied(subject, req, "no interactive session to approve the request")
	}
	answer, err := e.config.prompter.Ask(ctx, subject, req)
	if err != nil {
		return err
	}
	switch answer {
	case ports.AnswerAllowOnce:
		e.session[key] = e.decision(subject, req, entities.VerdictAllow, entities.ScopeSession)
		e.record(ctx, subject, req, entities.VerdictAllow, ports.SourcePrompt)
		return nil
	case ports.AnswerAllowAlways:
		if err := e.config.store.Put(ctx, e.decision(subject, req, entities.VerdictAllow, entities.ScopePersistent)); err != nil {
			return err
		}
		e.record(ctx, subject, req, entities.VerdictAllow, ports.SourcePrompt)
		return nil
	default:
		e.session[key] = e.decision(subject, req, entities.VerdictDeny, entities.ScopeSession)
		e.record(ctx, subject, req, entities.VerdictDeny, ports.SourcePrompt)
		return e.denied(subject, req, "denied by user")
	}
}

func (e *Evaluator) decision(subject string, req entities.CapabilityRequest, v entities.Verdict, s entities.Scope) entities.Decision {
	return entities.Decision{
		Subject:   subject,
		Kind:      req.Kind,
		Pattern:   req.Pattern,
		Verdict:   v,
		Scope:     s,
		DecidedAt: e.config.now().UTC(),
	}
}

func (e *Evaluator) verdictErr(subject string, req entities.CapabilityRequest, v entities.Verdict, reason string) error {
	if v == entities.VerdictAllow {
		return nil
	}
	return e.denied(subject, req, reason)
}

func (e *Evaluator) denied(subject string, req entities.CapabilityRequest, reason string) error {
	e.config.logger.Debug("capability denied",
		zap.String("plugin", subject),
		zap.String("kind", string(req.Kind)),
		zap.String("pattern", req.Pattern),
		zap.String("reason", reason))
	return &errors.CapabilityDeniedError{
		Subject: subject,
		Kind:    string(req.Kind),
		Pattern: req.Pattern,
		Reason:  reason,
	}
}

func (e *Evaluator) record(ctx context.Context, subject string, req entities.CapabilityRequest, v entities.Verdict, source string) {
	if e.config.audit == nil {
		return
	}
	err := e.config.audit.Record(ctx, ports.AuditEvent{
		Timestamp: e.config.now().UTC(),
		Subject:   subject,
		Kind:      string(req.Kind),
		Pattern:   req.Pattern,
		Verdict:   string(v),
		Source:    source,
		Strategy:  e.config.strategy.Name(),
	})
	if err != nil {
		e.config.logger.Warn("audit write failed", zap.Error(err))
	}
}
