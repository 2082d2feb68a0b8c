package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolportal-backend/internal/domain"
	"schoolportal-backend/pkg/logger"
)

// errFinalized marks an operation that found its session already terminal
var errFinalized = errors.New("session already finalized")

type delivery struct {
	userID uuid.UUID
	event  *domain.Event
}

// effects collects what a transition must do once the session lock is released
type effects struct {
	deliveries  []delivery
	mirrorSet   []uuid.UUID
	mirrorClear []uuid.UUID
	finalized   *domain.CallSession
	existing    uuid.UUID
}

func (e *effects) deliver(userID uuid.UUID, event *domain.Event) {
	e.deliveries = append(e.deliveries, delivery{userID: userID, event: event})
}

// deliverOthers sends event to every non-terminal participant except userID
func (e *effects) deliverOthers(sess *domain.CallSession, userID uuid.UUID, event *domain.Event) {
	for _, p := range sess.Participants {
		if p.UserID != userID && !p.Status.IsTerminal() {
			e.deliver(p.UserID, event)
		}
	}
}

type commitResult struct {
	session  *domain.CallSession
	existing uuid.UUID
}

// mutate applies fn to the session under its lock, then runs the
// collected effects after the lock is released.
func (s *Service) mutate(entry *sessionEntry, fn func(*domain.CallSession, *effects) error) (commitResult, error) {
	entry.mu.Lock()
	eff := &effects{}
	err := fn(entry.session, eff)
	result := commitResult{session: entry.session.Clone(), existing: eff.existing}
	s.commit(entry, eff)
	return result, err
}

// mutateNew is mutate for a session that is not yet visible to anyone
func (s *Service) mutateNew(entry *sessionEntry, fn func(*domain.CallSession, *effects) error) (commitResult, error) {
	entry.mu.Lock()
	s.registry.put(entry)
	eff := &effects{}
	err := fn(entry.session, eff)
	if eff.existing != uuid.Nil {
		s.registry.remove(entry.session.ID)
	}
	result := commitResult{session: entry.session.Clone(), existing: eff.existing}
	s.commit(entry, eff)
	return result, err
}

// commit releases entry.mu, which the caller holds, and executes eff.
// Deliveries are ordered per session by handing over to deliverMu first.
func (s *Service) commit(entry *sessionEntry, eff *effects) {
	entry.deliverMu.Lock()
	entry.mu.Unlock()

	for _, d := range eff.deliveries {
		n := 0
		if s.deliverer != nil {
			n = s.deliverer.Deliver(d.userID, d.event)
		}
		if n == 0 {
			logger.Debug("Event not delivered, user offline",
				zap.String("user_id", d.userID.String()),
				zap.String("event", string(d.event.Type)))
		}
	}
	entry.deliverMu.Unlock()

	if len(eff.mirrorSet) > 0 || len(eff.mirrorClear) > 0 || eff.finalized != nil {
		s.metrics.SetActiveCalls(s.registry.Len())
	}

	if s.mirror != nil && (len(eff.mirrorSet) > 0 || len(eff.mirrorClear) > 0) {
		sessionID := entry.session.ID
		set, cleared := eff.mirrorSet, eff.mirrorClear
		s.worker.submit("presence-mirror", func() {
			s.syncMirror(sessionID, set, cleared)
		})
	}

	if eff.finalized != nil {
		s.recordFinalized(eff.finalized)
	}
}

func (s *Service) syncMirror(sessionID uuid.UUID, set, cleared []uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallLogWriteTimeout)
	defer cancel()

	for _, id := range set {
		if err := s.mirror.SetInCall(ctx, id, sessionID); err != nil {
			logger.Warn("Failed to mirror in-call presence",
				zap.String("user_id", id.String()),
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
	}
	for _, id := range cleared {
		if err := s.mirror.ClearInCall(ctx, id, sessionID); err != nil {
			logger.Warn("Failed to clear in-call presence",
				zap.String("user_id", id.String()),
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}
	}
}

func (s *Service) recordFinalized(session *domain.CallSession) {
	var answeredFor time.Duration
	if d := session.DurationSeconds(); d != nil {
		answeredFor = time.Duration(*d) * time.Second
	}
	s.metrics.RecordCallFinalized(string(session.Kind), string(session.Status), answeredFor)

	if s.callLog == nil {
		return
	}
	entry := domain.NewCallLogEntry(session)
	s.worker.submit("call-log", func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallLogWriteTimeout)
		defer cancel()

		err := s.breaker.Execute(ctx, "append", func(ctx context.Context) error {
			return s.callLog.Append(ctx, entry)
		})
		if err != nil {
			s.metrics.RecordCallLogError(s.logBackend)
			logger.Error("Failed to write call log entry",
				zap.String("session_id", entry.SessionID.String()),
				zap.String("outcome", string(entry.Outcome)),
				zap.Error(err))
		}
	})
}

// leaveRingingPool moves a pending participant to a terminal status. Decline,
// busy, ring timeout and disconnect while ringing all go through here.
func (s *Service) leaveRingingPool(sess *domain.CallSession, p *domain.Participant, status domain.ParticipantStatus, reason string, eff *effects) {
	s.ringer.Cancel(sess.ID, p.UserID)
	p.Status = status
	p.UpdatedAt = s.now()
	s.presence.Unregister(p.UserID, sess.ID)
	eff.mirrorClear = append(eff.mirrorClear, p.UserID)

	var event *domain.Event
	switch status {
	case domain.ParticipantDeclined:
		event = domain.NewEvent(domain.EventDeclined, sess.ID)
	case domain.ParticipantBusy:
		event = domain.NewEvent(domain.EventBusy, sess.ID)
	default:
		event = domain.NewEvent(domain.EventParticipantLeft, sess.ID)
		event.Reason = reason
	}
	event.Participant = clonePtr(p)
	eff.deliverOthers(sess, p.UserID, event)

	logger.Debug("Participant left ringing pool",
		zap.String("session_id", sess.ID.String()),
		zap.String("user_id", p.UserID.String()),
		zap.String("status", string(status)))

	if sess.Status == domain.SessionRinging && sess.CountStatus(domain.ParticipantRinging, domain.ParticipantInvited) == 0 {
		s.finalize(sess, unansweredOutcome(sess), reason, eff, p.UserID)
	}
}

// leaveConnected moves a connected participant out of the session
func (s *Service) leaveConnected(sess *domain.CallSession, p *domain.Participant, reason string, eff *effects) {
	if sess.Status == domain.SessionRinging && p.UserID == sess.InitiatorID {
		s.finalize(sess, domain.SessionCancelled, cancelReason(reason), eff, p.UserID)
		return
	}

	p.Status = domain.ParticipantLeft
	p.UpdatedAt = s.now()
	s.presence.Unregister(p.UserID, sess.ID)
	eff.mirrorClear = append(eff.mirrorClear, p.UserID)

	event := domain.NewEvent(domain.EventParticipantLeft, sess.ID)
	event.Participant = clonePtr(p)
	event.Reason = reason
	eff.deliverOthers(sess, p.UserID, event)

	logger.Debug("Participant left",
		zap.String("session_id", sess.ID.String()),
		zap.String("user_id", p.UserID.String()),
		zap.String("reason", reason))

	if sess.CountStatus(domain.ParticipantConnected) < 2 {
		s.finalize(sess, domain.SessionEnded, reason, eff, p.UserID)
	}
}

// finalize makes the session terminal exactly once and purges it from the
// live registries. Pending participants end up missed and connected ones left.
// The ended event goes to everyone still in the session plus notify.
func (s *Service) finalize(sess *domain.CallSession, status domain.SessionStatus, reason string, eff *effects, notify ...uuid.UUID) {
	if sess.Status.IsTerminal() {
		return
	}

	now := s.now()
	sess.Status = status
	sess.EndedAt = &now

	recipients := append([]uuid.UUID(nil), notify...)
	for _, p := range sess.Participants {
		if !p.Status.IsTerminal() && p.UserID != uuid.Nil {
			recipients = appendUnique(recipients, p.UserID)
		}
		switch {
		case p.Status.IsPending():
			s.ringer.Cancel(sess.ID, p.UserID)
			p.Status = domain.ParticipantMissed
			p.UpdatedAt = now
		case p.Status == domain.ParticipantConnected:
			p.Status = domain.ParticipantLeft
			p.UpdatedAt = now
		default:
			continue
		}
		s.presence.Unregister(p.UserID, sess.ID)
		eff.mirrorClear = append(eff.mirrorClear, p.UserID)
	}

	s.registry.remove(sess.ID)
	s.tombstones.put(sess)
	eff.finalized = sess.Clone()

	ended := domain.NewEvent(domain.EventEnded, sess.ID)
	ended.Reason = reason
	ended.DurationSeconds = sess.DurationSeconds()
	for _, id := range recipients {
		eff.deliver(id, ended)
	}

	fields := []zap.Field{
		zap.String("session_id", sess.ID.String()),
		zap.String("outcome", string(status)),
		zap.String("reason", reason),
	}
	if d := ended.DurationSeconds; d != nil {
		fields = append(fields, zap.Int64("duration_seconds", *d))
	}
	logger.Info("Call finalized", fields...)
}

// unansweredOutcome picks the outcome of a session whose ringing set emptied
// before anyone answered.
func unansweredOutcome(sess *domain.CallSession) domain.SessionStatus {
	var declined, busy, missed, recipients int
	for _, p := range sess.Participants {
		if p.UserID == sess.InitiatorID {
			continue
		}
		recipients++
		switch p.Status {
		case domain.ParticipantDeclined:
			declined++
		case domain.ParticipantBusy:
			busy++
		case domain.ParticipantMissed:
			missed++
		}
	}
	switch {
	case declined > 0:
		return domain.SessionDeclined
	case busy == recipients:
		return domain.SessionBusy
	case missed > 0:
		return domain.SessionMissed
	default:
		return domain.SessionFailed
	}
}

func cancelReason(reason string) string {
	if reason == domain.ReasonDisconnected {
		return reason
	}
	return domain.ReasonCancelled
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
