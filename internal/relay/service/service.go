package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"relay/internal/relay/metrics"
	"relay/internal/relay/models"
	"relay/internal/relay/notify"
	id "relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/audit"
	"relay/pkg/platform/sentinel"
	"relay/pkg/requestcontext"
)

type IdentityStore interface {
	Identify(ctx context.Context, principal id.Principal) (*models.UserRecord, bool, error)
	Lookup(ctx context.Context, principal id.Principal) (id.IdentityID, error)
	Resolve(ctx context.Context, identity id.IdentityID) (*models.UserRecord, error)
	ResolvePrefix(ctx context.Context, prefix string, limit int) ([]id.IdentityID, error)
	Count(ctx context.Context) (int, error)
}

type ContactStore interface {
	Add(ctx context.Context, owner, target id.IdentityID) (bool, error)
	List(ctx context.Context, owner id.IdentityID) ([]id.IdentityID, error)
}

type Mailbox interface {
	Deposit(ctx context.Context, msg models.PendingMessage) error
	Drain(ctx context.Context, recipient id.IdentityID, now time.Time) ([]models.PendingMessage, error)
}

type StateStore interface {
	Transition(ctx context.Context, principal id.Principal, fn func(current models.InteractionState) (models.InteractionState, error)) error
}

// Notifier is the transport's outbound hook. The service calls it after a
// deposit and ignores failures beyond logging; production wires an async
// notify.Dispatcher so the call never waits on a broker.
type Notifier interface {
	Notify(ctx context.Context, principal id.Principal, text string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// DefaultPrefixMinLen is the shortest prefix accepted in place of a full identity.
const DefaultPrefixMinLen = 8

// Service is the relay core. Every inbound event for a principal runs as one
// turn under that principal's state lock: drain the inbox, then interpret the
// event according to the current interaction mode.
type Service struct {
	identities IdentityStore
	contacts   ContactStore
	mailbox    Mailbox
	states     StateStore
	notifier   Notifier

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer

	prefixMatch      bool
	prefixMinLen     int
	deliveryPreempts bool
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithPrefixPolicy controls whether a unique identity prefix of at least
// minLen characters is accepted where a full identity is expected.
func WithPrefixPolicy(enabled bool, minLen int) Option {
	return func(s *Service) {
		s.prefixMatch = enabled
		if minLen > 0 {
			s.prefixMinLen = minLen
		}
	}
}

// WithDeliveryPreempts sets whether a non-empty drain consumes the turn.
// When false, delivered messages ride along with the event's normal outcome.
func WithDeliveryPreempts(preempts bool) Option {
	return func(s *Service) {
		s.deliveryPreempts = preempts
	}
}

// New constructs a Service. All four stores are required.
func New(identities IdentityStore, contacts ContactStore, mailbox Mailbox, states StateStore, opts ...Option) (*Service, error) {
	if identities == nil || contacts == nil || mailbox == nil || states == nil {
		return nil, errors.New("relay service: identity, contact, mailbox and state stores are required")
	}
	s := &Service{
		identities:       identities,
		contacts:         contacts,
		mailbox:          mailbox,
		states:           states,
		logger:           slog.Default(),
		tracer:           otel.Tracer("relay/service"),
		prefixMatch:      true,
		prefixMinLen:     DefaultPrefixMinLen,
		deliveryPreempts: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = notify.NewLogNotifier(s.logger)
	}
	return s, nil
}

// OnIdentify binds principal to its identity, creating one on first contact,
// and delivers anything waiting. The interaction mode is left as it was.
func (s *Service) OnIdentify(ctx context.Context, principal id.Principal) (models.IdentifyResult, error) {
	defer s.metrics.ObserveTurn("identify", time.Now())
	ctx, span := s.tracer.Start(ctx, "relay.OnIdentify")
	defer span.End()

	principal, err := id.ParsePrincipal(string(principal))
	if err != nil {
		return models.IdentifyResult{}, s.fail(span, err)
	}

	record, created, err := s.identities.Identify(ctx, principal)
	if err != nil {
		return models.IdentifyResult{}, s.fail(span, storeError(err, "failed to identify principal"))
	}
	if created {
		s.metrics.IncrementIdentitiesCreated()
		s.refreshIdentityCount(ctx)
		s.logAudit(ctx, audit.EventIdentityCreated, record.Identity, id.IdentityID{})
	}

	result := models.IdentifyResult{Identity: record.Identity, Created: created}
	err = s.states.Transition(ctx, principal, func(current models.InteractionState) (models.InteractionState, error) {
		delivered, err := s.drain(ctx, record.Identity)
		if err != nil {
			return current, err
		}
		result.Delivered = delivered
		return current, nil
	})
	if err != nil {
		return models.IdentifyResult{}, s.fail(span, turnError(err))
	}
	span.SetAttributes(
		attribute.Bool("relay.created", created),
		attribute.Int("relay.delivered", len(result.Delivered)),
	)
	return result, nil
}

// OnCommand handles a menu action. Commands are honoured in any mode and
// replace whatever input the principal was in the middle of.
func (s *Service) OnCommand(ctx context.Context, principal id.Principal, cmd models.Command) (models.Response, error) {
	defer s.metrics.ObserveTurn("command", time.Now())
	ctx, span := s.tracer.Start(ctx, "relay.OnCommand", trace.WithAttributes(
		attribute.String("relay.command", string(cmd.Kind)),
	))
	defer span.End()

	if _, err := models.ParseCommandKind(string(cmd.Kind)); err != nil {
		return models.Response{}, s.fail(span, dErrors.Wrap(err, dErrors.CodeBadRequest, "unknown command"))
	}
	resp, err := s.turn(ctx, principal, func(self id.IdentityID, current models.InteractionState) (models.Response, models.InteractionState, error) {
		return s.handleCommand(ctx, self, cmd)
	})
	if err != nil {
		return models.Response{}, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("relay.outcome", string(resp.Kind)))
	return resp, nil
}

// OnText handles free text, read according to the principal's current mode.
func (s *Service) OnText(ctx context.Context, principal id.Principal, text string) (models.Response, error) {
	defer s.metrics.ObserveTurn("text", time.Now())
	ctx, span := s.tracer.Start(ctx, "relay.OnText")
	defer span.End()

	resp, err := s.turn(ctx, principal, func(self id.IdentityID, current models.InteractionState) (models.Response, models.InteractionState, error) {
		return s.handleText(ctx, self, current, text)
	})
	if err != nil {
		return models.Response{}, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("relay.outcome", string(resp.Kind)))
	return resp, nil
}

type handlerFunc func(self id.IdentityID, current models.InteractionState) (models.Response, models.InteractionState, error)

// turn runs one event for an identified principal: drain first, then handle.
// A non-empty drain ends the turn when delivery preempts.
func (s *Service) turn(ctx context.Context, principal id.Principal, handle handlerFunc) (models.Response, error) {
	principal, err := id.ParsePrincipal(string(principal))
	if err != nil {
		return models.Response{}, err
	}
	self, err := s.identities.Lookup(ctx, principal)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Response{}, dErrors.Wrap(models.ErrUnknownPrincipal, dErrors.CodeNotFound, "identify first")
		}
		return models.Response{}, storeError(err, "failed to look up principal")
	}

	var resp models.Response
	err = s.states.Transition(ctx, principal, func(current models.InteractionState) (models.InteractionState, error) {
		delivered, err := s.drain(ctx, self)
		if err != nil {
			return current, err
		}
		if len(delivered) > 0 && s.deliveryPreempts {
			resp = models.Response{Kind: models.ResponseDelivered, Delivered: delivered}
			return current, nil
		}

		out, next, err := handle(self, current)
		if err != nil {
			return current, err
		}
		out.Delivered = delivered
		resp = out
		return next, nil
	})
	if err != nil {
		return models.Response{}, turnError(err)
	}
	return resp, nil
}

func (s *Service) drain(ctx context.Context, self id.IdentityID) ([]models.PendingMessage, error) {
	delivered, err := s.mailbox.Drain(ctx, self, requestcontext.Now(ctx))
	if err != nil {
		return nil, storeError(err, "failed to drain inbox")
	}
	if len(delivered) > 0 {
		s.metrics.AddMessagesDelivered(len(delivered))
		s.logAudit(ctx, audit.EventInboxDrained, self, id.IdentityID{}, "count", len(delivered))
	}
	return delivered, nil
}

func (s *Service) handleCommand(ctx context.Context, self id.IdentityID, cmd models.Command) (models.Response, models.InteractionState, error) {
	switch cmd.Kind {
	case models.CommandAddContactStart:
		return models.Response{Kind: models.ResponseAwaitingContactID}, models.AwaitingContactID(), nil

	case models.CommandShowContacts:
		contacts, err := s.contacts.List(ctx, self)
		if err != nil {
			return models.Response{}, models.Idle(), storeError(err, "failed to list contacts")
		}
		return models.Response{Kind: models.ResponseContacts, Contacts: contacts}, models.Idle(), nil

	case models.CommandShowID:
		return models.Response{Kind: models.ResponseIdentity, Identity: self}, models.Idle(), nil

	case models.CommandWriteTo:
		return s.startComposing(ctx, self, cmd.Target)

	case models.CommandCancel:
		return models.Response{Kind: models.ResponseCancelled}, models.Idle(), nil

	default:
		return models.Response{}, models.Idle(), dErrors.New(dErrors.CodeBadRequest, "unknown command")
	}
}

func (s *Service) handleText(ctx context.Context, self id.IdentityID, current models.InteractionState, text string) (models.Response, models.InteractionState, error) {
	switch current.Mode {
	case models.ModeIdle:
		return models.Response{Kind: models.ResponseIdle}, models.Idle(), nil

	case models.ModeAwaitingContactID:
		resp, err := s.addContact(ctx, self, text)
		return resp, models.Idle(), err

	case models.ModeComposing:
		resp, err := s.send(ctx, self, current.Target, text)
		return resp, models.Idle(), err

	default:
		return models.Response{}, models.Idle(), dErrors.New(dErrors.CodeInvariantViolation, "unhandled interaction mode "+current.Mode.String())
	}
}

// startComposing selects a write target from the caller's own contacts.
func (s *Service) startComposing(ctx context.Context, self id.IdentityID, input string) (models.Response, models.InteractionState, error) {
	contacts, err := s.contacts.List(ctx, self)
	if err != nil {
		return models.Response{}, models.Idle(), storeError(err, "failed to list contacts")
	}
	target, ok := s.matchContact(contacts, input)
	if !ok {
		return s.rejectCommand(ctx, self, models.ErrContactNotFound)
	}
	if _, err := s.identities.Resolve(ctx, target); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.rejectCommand(ctx, self, models.ErrContactNotFound)
		}
		return models.Response{}, models.Idle(), storeError(err, "failed to resolve contact")
	}
	return models.Response{Kind: models.ResponseComposing, Target: target}, models.ComposingTo(target), nil
}

func (s *Service) rejectCommand(ctx context.Context, self id.IdentityID, reason error) (models.Response, models.InteractionState, error) {
	s.logger.InfoContext(ctx, "command rejected",
		"identity", self.String(),
		"reason", models.ReasonCode(reason),
	)
	return models.Response{Kind: models.ResponseCommandRejected, Reason: reason}, models.Idle(), nil
}

func (s *Service) addContact(ctx context.Context, self id.IdentityID, input string) (models.Response, error) {
	target, err := s.resolveTarget(ctx, input)
	if err != nil {
		return models.Response{}, err
	}
	if target.IsNil() {
		return s.contactAddFailed(ctx, self, target, models.ErrTargetUnknown), nil
	}
	if target == self {
		return s.contactAddFailed(ctx, self, target, models.ErrSelfReference), nil
	}

	added, err := s.contacts.Add(ctx, self, target)
	if err != nil {
		return models.Response{}, storeError(err, "failed to add contact")
	}
	if !added {
		return s.contactAddFailed(ctx, self, target, models.ErrAlreadyContact), nil
	}

	s.metrics.IncrementContactsAdded()
	s.logAudit(ctx, audit.EventContactAdded, self, target)
	return models.Response{Kind: models.ResponseContactAdded, Target: target}, nil
}

func (s *Service) contactAddFailed(ctx context.Context, self, target id.IdentityID, reason error) models.Response {
	code := models.ReasonCode(reason)
	s.metrics.IncrementContactAddFailed(code)
	s.logAudit(ctx, audit.EventContactAddRejected, self, target, "reason", code)
	return models.Response{Kind: models.ResponseContactAddFailed, Reason: reason, Target: target}
}

func (s *Service) send(ctx context.Context, self, target id.IdentityID, body string) (models.Response, error) {
	recipient, err := s.identities.Resolve(ctx, target)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.messageRejected(ctx, self, target, models.ErrContactNotFound), nil
		}
		return models.Response{}, storeError(err, "failed to resolve recipient")
	}
	if err := models.ValidateBody(body); err != nil {
		return s.messageRejected(ctx, self, target, err), nil
	}

	msg := models.NewPendingMessage(self, target, body, requestcontext.Now(ctx))
	if err := s.mailbox.Deposit(ctx, msg); err != nil {
		return models.Response{}, storeError(err, "failed to deposit message")
	}
	s.metrics.IncrementMessagesDeposited()
	s.logAudit(ctx, audit.EventMessageDeposited, self, target)

	if err := s.notifier.Notify(ctx, recipient.Principal, notify.NewMessageText(self)); err != nil {
		s.metrics.IncrementNotifyFailures()
		s.logger.WarnContext(ctx, "recipient notification failed",
			"reason", models.ReasonCode(models.ErrDeliveryNotifyFailed),
			"recipient", target.String(),
			"error", err,
		)
		s.logAudit(ctx, audit.EventNotifyFailed, self, target)
	}

	return models.Response{Kind: models.ResponseMessageSent, Target: target, MessageID: msg.ID}, nil
}

func (s *Service) messageRejected(ctx context.Context, self, target id.IdentityID, reason error) models.Response {
	code := models.ReasonCode(reason)
	s.metrics.IncrementMessagesRejected(code)
	s.logAudit(ctx, audit.EventMessageRejected, self, target, "reason", code)
	return models.Response{Kind: models.ResponseMessageRejected, Reason: reason, Target: target}
}

// logAudit writes an audit line and forwards it to the publisher. Publisher
// failures are dropped; auditing never fails a turn.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, self, counterpart id.IdentityID, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	args := append(attributes,
		"event", string(event),
		"log_type", "audit",
		"identity", self.String(),
	)
	if !counterpart.IsNil() {
		args = append(args, "counterpart", counterpart.String())
	}
	if requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	ev := audit.Event{
		Identity:    self,
		Counterpart: counterpart,
		Action:      string(event),
		RequestID:   requestID,
	}
	for i := 0; i+1 < len(attributes); i += 2 {
		switch attributes[i] {
		case "reason":
			ev.Reason, _ = attributes[i+1].(string)
		case "count":
			ev.Count, _ = attributes[i+1].(int)
		}
	}
	_ = s.auditPublisher.Emit(ctx, ev)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return err
}

// refreshIdentityCount updates the identities gauge. A failed count only logs.
func (s *Service) refreshIdentityCount(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.identities.Count(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to count identities", "error", err)
		return
	}
	s.metrics.SetIdentities(n)
}

// storeError translates a store failure into a coded error.
func storeError(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, msg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// turnError codes an error that escaped a state transition.
func turnError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "turn abandoned")
	}
	return storeError(err, "turn failed")
}
