// Package memstore is an in-memory implementation of the store gateway.
// It mirrors the PostgreSQL gateway's semantics — admission serialized per
// user, compare-and-set transitions, idempotent mutators — behind one
// mutex, and backs hermetic tests of everything above the gateway.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

type sessionKey struct {
	meetingID  uuid.UUID
	sessionUID uuid.UUID
}

// Store is the in-memory gateway.
type Store struct {
	mu       sync.Mutex
	users    map[string]*models.User
	meetings map[uuid.UUID]*models.Meeting
	sessions map[sessionKey]*models.MeetingSession

	// failNext, when positive, makes the next N operations report the
	// store as unavailable. Used to exercise retry paths.
	failNext int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*models.User),
		meetings: make(map[uuid.UUID]*models.Meeting),
		sessions: make(map[sessionKey]*models.MeetingSession),
	}
}

// FailNext makes the next n operations return ErrDatabase.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Store) unavailable() apperrors.Error {
	if s.failNext > 0 {
		s.failNext--
		return dberror.ErrDatabase.Msg("injected failure")
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID, meetingURL string, cfg botcommon.MeetingConfig) (*db.Reservation, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}

	user, ok := s.users[userID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("user not found")
	}

	nonTerminal := 0
	duplicate := false
	for _, m := range s.meetings {
		if m.UserID != userID || m.Status.IsTerminal() {
			continue
		}
		nonTerminal++
		if m.Platform == platform && m.NativeMeetingID == nativeMeetingID {
			duplicate = true
		}
	}
	if nonTerminal >= user.MaxConcurrentBots {
		return nil, dberror.ErrLimitExceeded.Msg(
			fmt.Sprintf("user has %d of %d allowed bots in flight", nonTerminal, user.MaxConcurrentBots))
	}
	if duplicate {
		return nil, dberror.ErrConflict
	}

	now := time.Now().UTC()
	m := &models.Meeting{
		MeetingID:       uuid.New(),
		UserID:          userID,
		Platform:        platform,
		NativeMeetingID: nativeMeetingID,
		SessionUID:      uuid.NewSessionUID(),
		Status:          models.MeetingStatusReserved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if meetingURL != "" {
		m.MeetingURL.Valid = true
		m.MeetingURL.String = meetingURL
	}
	if err := m.SetMeetingConfig(cfg); err != nil {
		return nil, dberror.ErrInvalidInput.Err(err)
	}
	s.meetings[m.MeetingID] = m

	return &db.Reservation{MeetingID: m.MeetingID, SessionUID: m.SessionUID}, nil
}

func (s *Store) SetContainer(ctx context.Context, meetingID uuid.UUID, containerID string) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return err
	}
	if containerID == "" {
		return dberror.ErrInvalidInput.Msg("empty container id")
	}
	m, ok := s.meetings[meetingID]
	if !ok {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	if m.BotContainerID.Valid {
		if m.BotContainerID.String == containerID {
			return nil
		}
		return dberror.ErrAlreadySet
	}
	m.BotContainerID.Valid = true
	m.BotContainerID.String = containerID
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AdvanceStatus(ctx context.Context, meetingID uuid.UUID, from []models.MeetingStatus, to models.MeetingStatus, opts db.AdvanceOptions) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return err
	}
	if !to.IsValid() {
		return dberror.ErrInvalidInput.Msg("unknown status: " + string(to))
	}
	m, ok := s.meetings[meetingID]
	if !ok {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	if m.Status == to {
		return nil
	}
	for _, f := range from {
		if m.Status == f && f.CanAdvanceTo(to) {
			m.Status = to
			m.UpdatedAt = time.Now().UTC()
			if opts.StartTime != nil {
				m.StartTime.Valid = true
				m.StartTime.Time = *opts.StartTime
			}
			if opts.EndTime != nil {
				m.EndTime.Valid = true
				m.EndTime.Time = *opts.EndTime
			}
			if opts.FailureReason != nil {
				m.FailureReason.Valid = true
				m.FailureReason.String = *opts.FailureReason
			}
			return nil
		}
	}
	return dberror.ErrIllegalTransition.Msg(
		fmt.Sprintf("meeting is %q, cannot advance to %q", m.Status, to))
}

func (s *Store) Touch(ctx context.Context, meetingID uuid.UUID) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return err
	}
	m, ok := s.meetings[meetingID]
	if !ok {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateConfig(ctx context.Context, meetingID uuid.UUID, cfg botcommon.MeetingConfig) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return err
	}
	m, ok := s.meetings[meetingID]
	if !ok {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	if err := m.SetMeetingConfig(cfg); err != nil {
		return dberror.ErrInvalidInput.Err(err)
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpsertSession(ctx context.Context, meetingID, sessionUID uuid.UUID, startTime time.Time) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return err
	}
	key := sessionKey{meetingID: meetingID, sessionUID: sessionUID}
	if _, ok := s.sessions[key]; ok {
		return nil
	}
	s.sessions[key] = &models.MeetingSession{
		SessionUID:       sessionUID,
		MeetingID:        meetingID,
		SessionStartTime: startTime,
		CreatedAt:        time.Now().UTC(),
	}
	return nil
}

func (s *Store) ScanStale(ctx context.Context, status models.MeetingStatus, olderThan time.Time) ([]*models.Meeting, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	var result []*models.Meeting
	for _, m := range s.meetings {
		if m.Status == status && m.UpdatedAt.Before(olderThan) {
			cp := *m
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *Store) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("meeting not found")
	}
	cp := *m
	return &cp, nil
}

func (s *Store) GetMeetingBySessionUID(ctx context.Context, sessionUID uuid.UUID) (*models.Meeting, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	for _, m := range s.meetings {
		if m.SessionUID == sessionUID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("no meeting for session")
}

func (s *Store) GetNonTerminalMeeting(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string) (*models.Meeting, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	var newest *models.Meeting
	for _, m := range s.meetings {
		if m.UserID != userID || m.Platform != platform || m.NativeMeetingID != nativeMeetingID {
			continue
		}
		if m.Status.IsTerminal() {
			continue
		}
		if newest == nil || m.CreatedAt.After(newest.CreatedAt) {
			newest = m
		}
	}
	if newest == nil {
		return nil, dberror.ErrNotFound.Msg("no non-terminal meeting")
	}
	cp := *newest
	return &cp, nil
}

func (s *Store) ListMeetings(ctx context.Context, filter db.MeetingFilter) ([]*models.Meeting, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	var result []*models.Meeting
	for _, m := range s.meetings {
		if filter.UserID != "" && m.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, st := range filter.Statuses {
				if m.Status == st {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		cp := *m
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CountNonTerminal(ctx context.Context, userID string) (int, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return 0, err
	}
	count := 0
	for _, m := range s.meetings {
		if m.UserID == userID && !m.Status.IsTerminal() {
			count++
		}
	}
	return count, nil
}

func (s *Store) GetSession(ctx context.Context, sessionUID uuid.UUID) (*models.MeetingSession, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	for key, ms := range s.sessions {
		if key.sessionUID == sessionUID {
			cp := *ms
			return &cp, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("session not found")
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, apperrors.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("user not found")
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UpsertUser(ctx context.Context, user *models.User) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.unavailable(); err != nil {
		return err
	}
	if user.UserID == "" {
		return dberror.ErrInvalidInput.Msg("empty user id")
	}
	if user.MaxConcurrentBots < 0 {
		return dberror.ErrInvalidInput.Msg("negative concurrency cap")
	}
	cp := *user
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.users[user.UserID] = &cp
	return nil
}

func (s *Store) Ping(ctx context.Context) apperrors.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable()
}

func (s *Store) ApplySchema(ctx context.Context) apperrors.Error {
	return nil
}

// SetUpdatedAt rewinds a meeting's freshness clock. Test helper for
// exercising staleness scans.
func (s *Store) SetUpdatedAt(meetingID uuid.UUID, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.meetings[meetingID]; ok {
		m.UpdatedAt = t
	}
}
