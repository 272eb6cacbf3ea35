package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Mailbox,Notifier,AuditPublisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"relay/internal/relay/metrics"
	"relay/internal/relay/models"
	"relay/internal/relay/service/mocks"
	"relay/internal/relay/store/contact"
	"relay/internal/relay/store/identity"
	"relay/internal/relay/store/mailbox"
	"relay/internal/relay/store/state"
	id "relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/audit"
	auditmemory "relay/pkg/platform/audit/store/memory"
	"relay/pkg/platform/audit/publisher"
)

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	ctrl       *gomock.Controller
	notifier   *mocks.MockNotifier
	identities *identity.InMemory
	contacts   *contact.InMemory
	mailbox    *mailbox.InMemory
	states     *state.InMemory
	auditStore *auditmemory.InMemoryStore
	service    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.identities = identity.NewInMemory()
	s.contacts = contact.NewInMemory()
	s.mailbox = mailbox.NewInMemory(models.DefaultRetention)
	s.states = state.NewInMemory()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithNotifier(s.notifier),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	}
	svc, err := New(s.identities, s.contacts, s.mailbox, s.states, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) allowNotify() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func (s *ServiceSuite) identify(principal id.Principal) id.IdentityID {
	result, err := s.service.OnIdentify(s.ctx, principal)
	s.Require().NoError(err)
	return result.Identity
}

func (s *ServiceSuite) command(principal id.Principal, kind models.CommandKind, target string) models.Response {
	resp, err := s.service.OnCommand(s.ctx, principal, models.Command{Kind: kind, Target: target})
	s.Require().NoError(err)
	return resp
}

func (s *ServiceSuite) text(principal id.Principal, text string) models.Response {
	resp, err := s.service.OnText(s.ctx, principal, text)
	s.Require().NoError(err)
	return resp
}

func (s *ServiceSuite) addContact(principal id.Principal, input string) models.Response {
	s.Require().Equal(models.ResponseAwaitingContactID, s.command(principal, models.CommandAddContactStart, "").Kind)
	return s.text(principal, input)
}

func (s *ServiceSuite) mode(principal id.Principal) models.InteractionState {
	st, err := s.states.Get(s.ctx, principal)
	s.Require().NoError(err)
	return st
}

func (s *ServiceSuite) TestNewRequiresStores() {
	_, err := New(nil, s.contacts, s.mailbox, s.states)
	s.Error(err)
}

func (s *ServiceSuite) TestIdentifyIsIdempotent() {
	first, err := s.service.OnIdentify(s.ctx, "tg:alice")
	s.Require().NoError(err)
	s.True(first.Created)
	s.Empty(first.Delivered)

	second, err := s.service.OnIdentify(s.ctx, "tg:alice")
	s.Require().NoError(err)
	s.False(second.Created)
	s.Equal(first.Identity, second.Identity)

	events, err := s.auditStore.ListByIdentity(s.ctx, first.Identity)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventIdentityCreated), events[0].Action)
}

func (s *ServiceSuite) TestIdentifyRejectsBlankPrincipal() {
	_, err := s.service.OnIdentify(s.ctx, "   ")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestPrincipalIsTrimmedBeforeLookup() {
	padded, err := s.service.OnIdentify(s.ctx, "  tg:alice ")
	s.Require().NoError(err)
	s.True(padded.Created)

	plain, err := s.service.OnIdentify(s.ctx, "tg:alice")
	s.Require().NoError(err)
	s.False(plain.Created)
	s.Equal(padded.Identity, plain.Identity)

	resp, err := s.service.OnCommand(s.ctx, " tg:alice", models.Command{Kind: models.CommandShowID})
	s.Require().NoError(err)
	s.Equal(plain.Identity, resp.Identity)
}

func (s *ServiceSuite) TestIdentityGaugeTracksRegistrations() {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s.service = s.newService(WithMetrics(m))

	s.identify("tg:alice")
	s.identify("tg:bob")
	s.identify("tg:alice")

	s.InDelta(2, promtestutil.ToFloat64(m.Identities), 0)
	s.InDelta(2, promtestutil.ToFloat64(m.IdentitiesCreated), 0)
}

func (s *ServiceSuite) TestUnknownPrincipalMustIdentifyFirst() {
	_, err := s.service.OnText(s.ctx, "tg:stranger", "hello")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.ErrorIs(err, models.ErrUnknownPrincipal)

	_, err = s.service.OnCommand(s.ctx, "tg:stranger", models.Command{Kind: models.CommandShowID})
	s.ErrorIs(err, models.ErrUnknownPrincipal)
}

// A adds B, writes to B; B receives on its next interaction, exactly once.
func (s *ServiceSuite) TestAliceWritesToBob() {
	alice := s.identify("tg:alice")
	bob := s.identify("tg:bob")

	added := s.addContact("tg:alice", bob.String())
	s.Equal(models.ResponseContactAdded, added.Kind)
	s.Equal(bob, added.Target)
	s.Equal(models.Idle(), s.mode("tg:alice"))

	composing := s.command("tg:alice", models.CommandWriteTo, bob.String())
	s.Equal(models.ResponseComposing, composing.Kind)
	s.Equal(models.ComposingTo(bob), s.mode("tg:alice"))

	s.notifier.EXPECT().
		Notify(gomock.Any(), id.Principal("tg:bob"), "New message from "+alice.String()).
		Return(nil)
	sent := s.text("tg:alice", "hello bob")
	s.Equal(models.ResponseMessageSent, sent.Kind)
	s.NotEmpty(sent.MessageID)
	s.Equal(models.Idle(), s.mode("tg:alice"))

	delivered := s.text("tg:bob", "anything")
	s.Equal(models.ResponseDelivered, delivered.Kind)
	s.Require().Len(delivered.Delivered, 1)
	s.Equal("hello bob", delivered.Delivered[0].Body)
	s.Equal(alice, delivered.Delivered[0].Sender)
	s.Equal(bob, delivered.Delivered[0].Recipient)
	s.Equal(sent.MessageID, delivered.Delivered[0].ID)

	again := s.text("tg:bob", "anything")
	s.Equal(models.ResponseIdle, again.Kind)
	s.Empty(again.Delivered)
}

func (s *ServiceSuite) TestIdentifyDeliversPending() {
	s.allowNotify()
	s.identify("tg:alice")
	bob := s.identify("tg:bob")
	s.addContact("tg:alice", bob.String())
	s.command("tg:alice", models.CommandWriteTo, bob.String())
	s.text("tg:alice", "first")
	s.command("tg:alice", models.CommandWriteTo, bob.String())
	s.text("tg:alice", "second")

	result, err := s.service.OnIdentify(s.ctx, "tg:bob")
	s.Require().NoError(err)
	s.Require().Len(result.Delivered, 2)
	s.Equal("first", result.Delivered[0].Body)
	s.Equal("second", result.Delivered[1].Body)
}

func (s *ServiceSuite) TestAddContactOutcomes() {
	alice := s.identify("tg:alice")
	bob := s.identify("tg:bob")

	s.Run("self reference is rejected without mutation", func() {
		resp := s.addContact("tg:alice", alice.String())
		s.Equal(models.ResponseContactAddFailed, resp.Kind)
		s.ErrorIs(resp.Reason, models.ErrSelfReference)
		contacts, err := s.contacts.List(s.ctx, alice)
		s.Require().NoError(err)
		s.Empty(contacts)
		s.Equal(models.Idle(), s.mode("tg:alice"))
	})

	s.Run("unknown well-formed identity", func() {
		resp := s.addContact("tg:alice", uuid.NewString())
		s.Equal(models.ResponseContactAddFailed, resp.Kind)
		s.ErrorIs(resp.Reason, models.ErrTargetUnknown)
	})

	s.Run("garbage and empty input", func() {
		for _, input := range []string{"", "   ", "not-an-id", "zz"} {
			resp := s.addContact("tg:alice", input)
			s.Equal(models.ResponseContactAddFailed, resp.Kind, input)
			s.ErrorIs(resp.Reason, models.ErrTargetUnknown, input)
		}
	})

	s.Run("added then already a contact", func() {
		first := s.addContact("tg:alice", "  "+strings.ToUpper(bob.String())+"\n")
		s.Equal(models.ResponseContactAdded, first.Kind)

		second := s.addContact("tg:alice", bob.String())
		s.Equal(models.ResponseContactAddFailed, second.Kind)
		s.ErrorIs(second.Reason, models.ErrAlreadyContact)

		contacts := s.command("tg:alice", models.CommandShowContacts, "")
		s.Equal(models.ResponseContacts, contacts.Kind)
		s.Equal([]id.IdentityID{bob}, contacts.Contacts)
	})
}

func (s *ServiceSuite) TestPrefixPolicy() {
	ids := []string{
		"aaaaaaaa-0000-4000-8000-000000000001",
		"aaaaaaaa-1111-4000-8000-000000000002",
		"bbbbbbbb-0000-4000-8000-000000000003",
	}
	next := 0
	s.identities = identity.NewInMemory(identity.WithIDGenerator(func() (id.IdentityID, error) {
		parsed, err := id.ParseIdentityID(ids[next])
		next++
		return parsed, err
	}))
	s.service = s.newService()

	s.identify("tg:first")
	second := s.identify("tg:second")
	s.identify("tg:owner")

	s.Run("ambiguous prefix is rejected", func() {
		resp := s.addContact("tg:owner", "aaaaaaaa")
		s.ErrorIs(resp.Reason, models.ErrTargetUnknown)
	})

	s.Run("prefix shorter than the minimum is rejected", func() {
		resp := s.addContact("tg:owner", "bbbb")
		s.ErrorIs(resp.Reason, models.ErrTargetUnknown)
	})

	s.Run("unique prefix resolves", func() {
		resp := s.addContact("tg:owner", "AAAAAAAA-1111")
		s.Equal(models.ResponseContactAdded, resp.Kind)
		s.Equal(second, resp.Target)
	})

	s.Run("write-to accepts a unique prefix of a contact", func() {
		resp := s.command("tg:owner", models.CommandWriteTo, "aaaaaaaa")
		s.Equal(models.ResponseComposing, resp.Kind)
		s.Equal(second, resp.Target)
	})

	s.Run("exact-only policy ignores prefixes", func() {
		s.service = s.newService(WithPrefixPolicy(false, 0))
		resp := s.addContact("tg:owner", "bbbbbbbb-0000")
		s.Equal(models.ResponseContactAddFailed, resp.Kind)
		s.ErrorIs(resp.Reason, models.ErrTargetUnknown)

		resp = s.command("tg:owner", models.CommandWriteTo, "aaaaaaaa-1111")
		s.Equal(models.ResponseCommandRejected, resp.Kind)
	})
}

func (s *ServiceSuite) TestMessageLengthLimit() {
	s.allowNotify()
	s.identify("tg:alice")
	bob := s.identify("tg:bob")
	s.addContact("tg:alice", bob.String())

	s.command("tg:alice", models.CommandWriteTo, bob.String())
	resp := s.text("tg:alice", strings.Repeat("ж", models.MaxMessageRunes))
	s.Equal(models.ResponseMessageSent, resp.Kind)

	s.command("tg:alice", models.CommandWriteTo, bob.String())
	resp = s.text("tg:alice", strings.Repeat("ж", models.MaxMessageRunes+1))
	s.Equal(models.ResponseMessageRejected, resp.Kind)
	s.ErrorIs(resp.Reason, models.ErrMessageTooLong)
	s.Equal(models.Idle(), s.mode("tg:alice"))

	s.command("tg:alice", models.CommandWriteTo, bob.String())
	resp = s.text("tg:alice", " \n ")
	s.ErrorIs(resp.Reason, models.ErrEmptyMessage)

	pending, err := s.mailbox.Pending(s.ctx, bob)
	s.Require().NoError(err)
	s.Equal(1, pending)
}

func (s *ServiceSuite) TestWriteToRequiresContact() {
	s.identify("tg:alice")
	bob := s.identify("tg:bob")

	resp := s.command("tg:alice", models.CommandWriteTo, bob.String())
	s.Equal(models.ResponseCommandRejected, resp.Kind)
	s.ErrorIs(resp.Reason, models.ErrContactNotFound)
	s.Equal(models.Idle(), s.mode("tg:alice"))
}

func (s *ServiceSuite) TestDanglingContactReportsNotFound() {
	alice := s.identify("tg:alice")
	ghost := id.IdentityID(uuid.New())

	added, err := s.contacts.Add(s.ctx, alice, ghost)
	s.Require().NoError(err)
	s.Require().True(added)

	s.Run("write-to a contact that no longer resolves", func() {
		resp := s.command("tg:alice", models.CommandWriteTo, ghost.String())
		s.Equal(models.ResponseCommandRejected, resp.Kind)
		s.ErrorIs(resp.Reason, models.ErrContactNotFound)
	})

	s.Run("composing to a target that no longer resolves", func() {
		s.Require().NoError(s.states.Transition(s.ctx, "tg:alice", func(models.InteractionState) (models.InteractionState, error) {
			return models.ComposingTo(ghost), nil
		}))
		resp := s.text("tg:alice", "anyone there?")
		s.Equal(models.ResponseMessageRejected, resp.Kind)
		s.ErrorIs(resp.Reason, models.ErrContactNotFound)
		s.Equal(models.Idle(), s.mode("tg:alice"))
	})
}

func (s *ServiceSuite) TestDeliveryPreemptsTheTurn() {
	s.allowNotify()
	alice := s.identify("tg:alice")
	s.identify("tg:bob")
	s.addContact("tg:bob", alice.String())
	s.command("tg:bob", models.CommandWriteTo, alice.String())

	// alice starts adding bob back, but bob's message lands first
	bobID, err := s.identities.Lookup(s.ctx, "tg:bob")
	s.Require().NoError(err)
	s.command("tg:alice", models.CommandAddContactStart, "")
	s.text("tg:bob", "ping")

	resp := s.text("tg:alice", bobID.String())
	s.Equal(models.ResponseDelivered, resp.Kind)
	s.Require().Len(resp.Delivered, 1)
	s.Equal(models.AwaitingContactID(), s.mode("tg:alice"), "mode survives a delivery turn")

	resp = s.text("tg:alice", bobID.String())
	s.Equal(models.ResponseContactAdded, resp.Kind)
}

func (s *ServiceSuite) TestDeliveryAlongsideOutcomeWhenNotPreempting() {
	s.allowNotify()
	s.service = s.newService(WithDeliveryPreempts(false))
	alice := s.identify("tg:alice")
	bob := s.identify("tg:bob")
	s.addContact("tg:bob", alice.String())
	s.command("tg:bob", models.CommandWriteTo, alice.String())

	s.command("tg:alice", models.CommandAddContactStart, "")
	s.text("tg:bob", "ping")

	resp := s.text("tg:alice", bob.String())
	s.Equal(models.ResponseContactAdded, resp.Kind)
	s.Require().Len(resp.Delivered, 1)
	s.Equal("ping", resp.Delivered[0].Body)
}

func (s *ServiceSuite) TestNotifyFailureKeepsDeposit() {
	s.identify("tg:alice")
	bob := s.identify("tg:bob")
	s.addContact("tg:alice", bob.String())
	s.command("tg:alice", models.CommandWriteTo, bob.String())

	s.notifier.EXPECT().Notify(gomock.Any(), id.Principal("tg:bob"), gomock.Any()).
		Return(errors.New("transport down"))
	resp := s.text("tg:alice", "still here")
	s.Equal(models.ResponseMessageSent, resp.Kind)

	result, err := s.service.OnIdentify(s.ctx, "tg:bob")
	s.Require().NoError(err)
	s.Require().Len(result.Delivered, 1)
	s.Equal("still here", result.Delivered[0].Body)
}

func (s *ServiceSuite) TestDepositFailureIsInternalError() {
	mb := mocks.NewMockMailbox(s.ctrl)
	svc, err := New(s.identities, s.contacts, mb, s.states, WithNotifier(s.notifier))
	s.Require().NoError(err)
	s.service = svc

	mb.EXPECT().Drain(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	s.identify("tg:alice")
	bob := s.identify("tg:bob")
	s.addContact("tg:alice", bob.String())
	s.command("tg:alice", models.CommandWriteTo, bob.String())

	mb.EXPECT().Deposit(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	_, err = s.service.OnText(s.ctx, "tg:alice", "hello")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(models.ComposingTo(bob), s.mode("tg:alice"), "failed turn leaves the mode untouched")
}

func (s *ServiceSuite) TestCommands() {
	alice := s.identify("tg:alice")

	s.Run("show id", func() {
		resp := s.command("tg:alice", models.CommandShowID, "")
		s.Equal(models.ResponseIdentity, resp.Kind)
		s.Equal(alice, resp.Identity)
	})

	s.Run("show contacts when empty", func() {
		resp := s.command("tg:alice", models.CommandShowContacts, "")
		s.Equal(models.ResponseContacts, resp.Kind)
		s.Empty(resp.Contacts)
	})

	s.Run("cancel returns to idle", func() {
		s.command("tg:alice", models.CommandAddContactStart, "")
		resp := s.command("tg:alice", models.CommandCancel, "")
		s.Equal(models.ResponseCancelled, resp.Kind)
		s.Equal(models.Idle(), s.mode("tg:alice"))
	})

	s.Run("idle text falls back", func() {
		resp := s.text("tg:alice", "hello?")
		s.Equal(models.ResponseIdle, resp.Kind)
	})

	s.Run("unknown command", func() {
		_, err := s.service.OnCommand(s.ctx, "tg:alice", models.Command{Kind: "help"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestConcurrentFirstContactCreatesOneIdentity() {
	var wg sync.WaitGroup
	results := make([]id.IdentityID, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.service.OnIdentify(s.ctx, "tg:same")
			s.NoError(err)
			results[i] = r.Identity
		}()
	}
	wg.Wait()
	for _, r := range results {
		s.Equal(results[0], r)
	}
	s.NoError(s.identities.CheckConsistency())
}

func (s *ServiceSuite) TestConcurrentSendersLoseNothing() {
	s.allowNotify()
	bob := s.identify("tg:bob")
	const senders = 20
	for i := range senders {
		p := id.Principal(fmt.Sprintf("tg:sender-%d", i))
		s.identify(p)
		s.addContact(p, bob.String())
	}

	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := id.Principal(fmt.Sprintf("tg:sender-%d", i))
			if _, err := s.service.OnCommand(s.ctx, p, models.Command{Kind: models.CommandWriteTo, Target: bob.String()}); !s.NoError(err) {
				return
			}
			resp, err := s.service.OnText(s.ctx, p, fmt.Sprintf("msg %d", i))
			s.NoError(err)
			s.Equal(models.ResponseMessageSent, resp.Kind)
		}()
	}
	wg.Wait()

	result, err := s.service.OnIdentify(s.ctx, "tg:bob")
	s.Require().NoError(err)
	s.Len(result.Delivered, senders)
}
