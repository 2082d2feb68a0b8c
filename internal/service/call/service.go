package call

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolportal-backend/internal/domain"
	"schoolportal-backend/pkg/config"
	apperrors "schoolportal-backend/pkg/errors"
	"schoolportal-backend/pkg/logger"
	"schoolportal-backend/pkg/metrics"
	"schoolportal-backend/pkg/resilience"
)

// Deliverer pushes an event to every live connection of a user and returns
// how many connections accepted it.
type Deliverer interface {
	Deliver(userID uuid.UUID, event *domain.Event) int
}

// ProfileSource resolves the display profile snapshotted into a session
type ProfileSource interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
}

// CallLogSink durably records finalized sessions
type CallLogSink interface {
	Append(ctx context.Context, entry *domain.CallLogEntry) error
}

// PresenceMirror publishes in-call presence for other services
type PresenceMirror interface {
	SetInCall(ctx context.Context, userID, sessionID uuid.UUID) error
	ClearInCall(ctx context.Context, userID, sessionID uuid.UUID) error
}

// Deps are the collaborators of the orchestrator. Only Deliverer is
// required; the rest are skipped when nil.
type Deps struct {
	Deliverer Deliverer
	Profiles  ProfileSource
	CallLog   CallLogSink
	Mirror    PresenceMirror
	Metrics   *metrics.Metrics
}

// Service orchestrates call sessions: it validates every transition,
// keeps the session registry and presence tracker in step, and fans
// events out through the connection registry.
type Service struct {
	cfg        config.CallConfig
	logBackend string

	deliverer Deliverer
	profiles  ProfileSource
	callLog   CallLogSink
	mirror    PresenceMirror
	metrics   *metrics.Metrics

	registry    *Registry
	presence    *Presence
	ringer      *Ringer
	tombstones  *tombstones
	breaker     *resilience.Breaker
	worker      *worker
	stopCleanup func()
	closing     atomic.Bool
	now         func() time.Time
}

// InitiateOutput is the result of Initiate. Resumed is set when the caller
// was already in a live session and that session is returned instead.
type InitiateOutput struct {
	Session *domain.CallSession `json:"session"`
	Resumed bool                `json:"resumed"`
}

// NewService creates the call orchestrator
func NewService(cfg config.CallConfig, deps Deps) *Service {
	s := &Service{
		cfg:        cfg,
		logBackend: cfg.CallLogBackend,
		deliverer:  deps.Deliverer,
		profiles:   deps.Profiles,
		callLog:    deps.CallLog,
		mirror:     deps.Mirror,
		metrics:    deps.Metrics,
		registry:   NewRegistry(),
		presence:   NewPresence(),
		tombstones: newTombstones(cfg.TombstoneTTL),
		breaker:    resilience.NewBreaker("call-log", resilience.DefaultBreakerConfig()),
		worker:     newWorker(1024),
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.ringer = NewRinger(cfg.RingTimeout, s.handleRingTimeout)
	s.stopCleanup = s.tombstones.cache.StartCleanup(time.Minute)
	return s
}

// Initiate starts a call from callerID to recipientIDs
func (s *Service) Initiate(ctx context.Context, callerID uuid.UUID, recipientIDs []uuid.UUID, kind domain.CallKind) (*InitiateOutput, error) {
	if s.closing.Load() {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeInternal, "Call service is shutting down", http.StatusServiceUnavailable)
	}
	if callerID == uuid.Nil {
		return nil, apperrors.UnauthorizedError("Caller identity required")
	}
	if !kind.Valid() {
		return nil, apperrors.ValidationError("kind must be audio or video")
	}
	recipients := normalizeRecipients(callerID, recipientIDs)
	if len(recipients) == 0 {
		return nil, apperrors.ValidationError("At least one recipient is required")
	}
	if s.cfg.MaxParticipants > 0 && len(recipients)+1 > s.cfg.MaxParticipants {
		return nil, apperrors.ValidationError(fmt.Sprintf("A call can have at most %d participants", s.cfg.MaxParticipants))
	}

	profiles, err := s.loadProfiles(ctx, append([]uuid.UUID{callerID}, recipients...))
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		out, existing, err := s.create(callerID, recipients, kind, profiles)
		if existing == uuid.Nil {
			return out, err
		}
		if session, ok := s.liveSnapshot(existing); ok && session.Participant(callerID) != nil {
			logger.Debug("Caller already in a call, resuming",
				zap.String("session_id", existing.String()),
				zap.String("user_id", callerID.String()))
			return &InitiateOutput{Session: session, Resumed: true}, nil
		}
	}
	return nil, apperrors.InternalError("Could not start call")
}

// create registers a new session. It returns the id of the caller's live
// session instead when the caller is already in one.
func (s *Service) create(callerID uuid.UUID, recipients []uuid.UUID, kind domain.CallKind, profiles map[uuid.UUID]domain.Profile) (*InitiateOutput, uuid.UUID, error) {
	now := s.now()
	session := &domain.CallSession{
		ID:               uuid.New(),
		InitiatorID:      callerID,
		InitiatorProfile: profiles[callerID],
		Kind:             kind,
		IsGroup:          len(recipients)+1 > 2,
		Status:           domain.SessionRinging,
		CreatedAt:        now,
	}
	entry := &sessionEntry{session: session}

	var resultErr error
	snapshot, _ := s.mutateNew(entry, func(sess *domain.CallSession, eff *effects) error {
		existing, busy := s.presence.Claim(callerID, recipients, sess.ID)
		if existing != uuid.Nil {
			eff.existing = existing
			return nil
		}

		joined := now
		sess.Participants = append(sess.Participants, &domain.Participant{
			UserID:    callerID,
			Profile:   profiles[callerID],
			Status:    domain.ParticipantConnected,
			JoinedAt:  &joined,
			UpdatedAt: now,
		})
		eff.mirrorSet = append(eff.mirrorSet, callerID)

		for _, id := range recipients {
			status := domain.ParticipantRinging
			if busy[id] {
				status = domain.ParticipantBusy
			}
			sess.Participants = append(sess.Participants, &domain.Participant{
				UserID:    id,
				Profile:   profiles[id],
				Status:    status,
				UpdatedAt: now,
			})
		}

		s.metrics.RecordCallInitiated(string(sess.Kind), sess.IsGroup)

		if len(busy) == len(recipients) {
			s.finalize(sess, domain.SessionBusy, domain.ReasonBusy, eff)
			resultErr = apperrors.BusyError("All recipients are in another call")
			return nil
		}

		incoming := domain.NewEvent(domain.EventIncoming, sess.ID)
		incoming.Session = sess.Clone()
		for _, p := range sess.Participants {
			if p.Status == domain.ParticipantRinging {
				eff.mirrorSet = append(eff.mirrorSet, p.UserID)
				eff.deliver(p.UserID, incoming)
				s.ringer.Start(sess.ID, p.UserID)
			}
		}

		logger.Info("Call initiated",
			zap.String("session_id", sess.ID.String()),
			zap.String("user_id", callerID.String()),
			zap.String("kind", string(sess.Kind)),
			zap.Int("recipients", len(recipients)),
			zap.Int("busy", len(busy)))
		return nil
	})

	if snapshot.existing != uuid.Nil {
		return nil, snapshot.existing, nil
	}
	return &InitiateOutput{Session: snapshot.session}, uuid.Nil, resultErr
}

// Answer connects callerID to a ringing session
func (s *Service) Answer(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	entry := s.registry.get(sessionID)
	if entry == nil {
		return nil, apperrors.CallNotFoundError()
	}

	result, err := s.mutate(entry, func(sess *domain.CallSession, eff *effects) error {
		if sess.Status.IsTerminal() {
			return apperrors.CallNotFoundError()
		}
		p := sess.Participant(callerID)
		if p == nil {
			return apperrors.InvalidStateError("You are not invited to this call")
		}
		if !p.Status.IsPending() {
			return apperrors.InvalidStateError(fmt.Sprintf("Cannot answer a call while %s", p.Status))
		}

		now := s.now()
		s.ringer.Cancel(sess.ID, callerID)
		p.Status = domain.ParticipantConnected
		p.JoinedAt = &now
		p.UpdatedAt = now
		if sess.AnsweredAt == nil {
			sess.AnsweredAt = &now
			sess.Status = domain.SessionActive
		}

		joinedEvent := domain.NewEvent(domain.EventParticipantJoined, sess.ID)
		joinedEvent.Participant = clonePtr(p)
		eff.deliverOthers(sess, callerID, joinedEvent)

		logger.Debug("Participant answered",
			zap.String("session_id", sess.ID.String()),
			zap.String("user_id", callerID.String()),
			zap.String("status", string(sess.Status)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.session, nil
}

// Decline removes a ringing callerID from the session
func (s *Service) Decline(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return s.exitRinging(callerID, sessionID, domain.ParticipantDeclined, domain.ReasonDeclined)
}

// MarkBusy is Decline with reason busy, sent by a client that is in a call elsewhere
func (s *Service) MarkBusy(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return s.exitRinging(callerID, sessionID, domain.ParticipantBusy, domain.ReasonBusy)
}

func (s *Service) exitRinging(callerID, sessionID uuid.UUID, status domain.ParticipantStatus, reason string) (*domain.CallSession, error) {
	entry := s.registry.get(sessionID)
	if entry == nil {
		return s.terminalSnapshot(callerID, sessionID)
	}

	result, err := s.mutate(entry, func(sess *domain.CallSession, eff *effects) error {
		if sess.Status.IsTerminal() {
			return errFinalized
		}
		p := sess.Participant(callerID)
		if p == nil {
			return apperrors.InvalidStateError("You are not invited to this call")
		}
		if p.Status == status {
			return nil
		}
		if !p.Status.IsPending() {
			return apperrors.InvalidStateError(fmt.Sprintf("Cannot %s a call while %s", reason, p.Status))
		}
		s.leaveRingingPool(sess, p, status, reason, eff)
		return nil
	})
	if err == errFinalized {
		return s.terminalSnapshot(callerID, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return result.session, nil
}

// End takes callerID out of the session. A ringing participant ending the
// call declines it.
func (s *Service) End(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	return s.leave(callerID, sessionID, domain.ReasonLeft)
}

func (s *Service) leave(callerID, sessionID uuid.UUID, reason string) (*domain.CallSession, error) {
	entry := s.registry.get(sessionID)
	if entry == nil {
		return s.terminalSnapshot(callerID, sessionID)
	}

	result, err := s.mutate(entry, func(sess *domain.CallSession, eff *effects) error {
		if sess.Status.IsTerminal() {
			return errFinalized
		}
		p := sess.Participant(callerID)
		if p == nil {
			return apperrors.InvalidStateError("You are not a participant of this call")
		}
		switch {
		case p.Status.IsPending():
			if reason == domain.ReasonDisconnected {
				s.leaveRingingPool(sess, p, domain.ParticipantFailed, reason, eff)
			} else {
				s.leaveRingingPool(sess, p, domain.ParticipantDeclined, domain.ReasonDeclined, eff)
			}
		case p.Status == domain.ParticipantConnected:
			s.leaveConnected(sess, p, reason, eff)
		}
		return nil
	})
	if err == errFinalized {
		return s.terminalSnapshot(callerID, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return result.session, nil
}

// Disconnect tears down userID's membership in every live session. It runs
// when the user's last connection closes.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID) {
	for _, sessionID := range s.presence.SessionsFor(userID) {
		if _, err := s.leave(userID, sessionID, domain.ReasonDisconnected); err != nil {
			logger.Debug("Disconnect teardown skipped",
				zap.String("session_id", sessionID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
}

// Get returns the session as seen by callerID, live or recently finalized
func (s *Service) Get(ctx context.Context, callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	session, ok := s.liveSnapshot(sessionID)
	if !ok {
		session, ok = s.tombstones.get(sessionID)
	}
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	if session.Participant(callerID) == nil {
		return nil, apperrors.InvalidStateError("You are not a participant of this call")
	}
	return session, nil
}

// ActiveFor lists the live sessions userID belongs to
func (s *Service) ActiveFor(ctx context.Context, userID uuid.UUID) []*domain.CallSession {
	ids := s.presence.SessionsFor(userID)
	sessions := make([]*domain.CallSession, 0, len(ids))
	for _, id := range ids {
		if session, ok := s.liveSnapshot(id); ok {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

// Snapshot returns a copy of a live session taken under its lock
func (s *Service) Snapshot(sessionID uuid.UUID) (*domain.CallSession, bool) {
	return s.liveSnapshot(sessionID)
}

// ActiveCount returns the number of live sessions
func (s *Service) ActiveCount() int {
	return s.registry.Len()
}

// Shutdown refuses new calls, finalizes every live session, then stops
// timers and waits for the queued call log and mirror writes.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	for _, entry := range s.registry.entries() {
		s.mutate(entry, func(sess *domain.CallSession, eff *effects) error {
			if sess.Status.IsTerminal() {
				return nil
			}
			outcome := domain.SessionEnded
			if sess.Status == domain.SessionRinging {
				outcome = domain.SessionFailed
			}
			s.finalize(sess, outcome, domain.ReasonShutdown, eff)
			return nil
		})
	}
	if n := s.registry.Len(); n > 0 {
		logger.Warn("Sessions still live after shutdown sweep", zap.Int("count", n))
	}

	s.ringer.Stop()
	s.stopCleanup()
	return s.worker.close(ctx)
}

func (s *Service) handleRingTimeout(sessionID, userID uuid.UUID) {
	entry := s.registry.get(sessionID)
	if entry == nil {
		return
	}
	s.mutate(entry, func(sess *domain.CallSession, eff *effects) error {
		if sess.Status.IsTerminal() {
			return nil
		}
		p := sess.Participant(userID)
		if p == nil || p.Status != domain.ParticipantRinging {
			return nil
		}
		s.metrics.RecordRingTimeout()
		s.leaveRingingPool(sess, p, domain.ParticipantMissed, domain.ReasonTimeout, eff)
		return nil
	})
}

func (s *Service) liveSnapshot(sessionID uuid.UUID) (*domain.CallSession, bool) {
	entry := s.registry.get(sessionID)
	if entry == nil {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session.Status.IsTerminal() {
		return nil, false
	}
	return entry.session.Clone(), true
}

// terminalSnapshot answers an idempotent operation on a finalized session
func (s *Service) terminalSnapshot(callerID, sessionID uuid.UUID) (*domain.CallSession, error) {
	session, ok := s.tombstones.get(sessionID)
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	if session.Participant(callerID) == nil {
		return nil, apperrors.InvalidStateError("You are not a participant of this call")
	}
	return session, nil
}

func (s *Service) loadProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]domain.Profile, error) {
	profiles := make(map[uuid.UUID]domain.Profile, len(userIDs))
	if s.profiles == nil {
		return profiles, nil
	}
	for _, id := range userIDs {
		profile, err := s.profiles.GetProfile(ctx, id)
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
				return nil, apperrors.ValidationError(fmt.Sprintf("Unknown user %s", id))
			}
			logger.Warn("Profile lookup failed, using empty profile",
				zap.String("user_id", id.String()),
				zap.Error(err))
			continue
		}
		if profile != nil {
			profiles[id] = *profile
		}
	}
	return profiles, nil
}

// normalizeRecipients drops duplicates, nil ids and the caller
func normalizeRecipients(callerID uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || id == callerID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func clonePtr(p *domain.Participant) *domain.Participant {
	c := *p
	if p.JoinedAt != nil {
		joined := *p.JoinedAt
		c.JoinedAt = &joined
	}
	return &c
}
