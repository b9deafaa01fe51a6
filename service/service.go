package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"

	"github.com/Merkerhood/paragon/core"
)

// Storage is the durable-store capability the service consumes; the
// sqlite-backed store package satisfies it. Implementations return
// core.ErrNotFound from LoadState for never-saved subjects.
type Storage interface {
	LoadState(ctx context.Context, subjectID uuid.UUID) (level, experience int, err error)
	LoadInvestments(ctx context.Context, subjectID uuid.UUID) (map[uint32]int, error)
	SaveState(ctx context.Context, subjectID uuid.UUID, level, experience int) error
	SaveInvestments(ctx context.Context, subjectID uuid.UUID, investments map[uint32]int) error
}

// KeyStrategy selects whether progression is tracked per character or per
// account. It is fixed at construction time; nothing else in the engine or
// service branches on it.
type KeyStrategy int

const (
	KeyByCharacter KeyStrategy = iota
	KeyByAccount
)

// SubjectKey maps a login's identity pair onto the storage key.
func (ks KeyStrategy) SubjectKey(characterID, accountID uuid.UUID) uuid.UUID {
	if ks == KeyByAccount {
		return accountID
	}
	return characterID
}

// ErrSubjectNotActive is returned for triggers and updates that reference
// a subject with no live session.
var ErrSubjectNotActive = errors.New("subject is not active")

// Service owns the explicit collection of active subjects and glues the
// host's lifecycle and trigger events to the progression engine. All
// subject mutations funnel through its mutex, satisfying the engine's
// serialized-caller requirement.
type Service struct {
	Engine     *core.Engine
	Catalogue  *core.Catalogue
	Storage    Storage
	Applicator core.BonusApplicator
	Keys       KeyStrategy
	Logger     zerolog.Logger

	mu       sync.Mutex
	subjects map[uuid.UUID]*core.State
}

// Start validates the wiring. It must be called before any handler.
func (s *Service) Start() error {
	if s.Engine == nil {
		return errors.New("uninitialized Engine")
	}
	if s.Catalogue == nil {
		return errors.New("uninitialized Catalogue")
	}
	if s.Storage == nil {
		return errors.New("uninitialized Storage")
	}
	if s.Applicator == nil {
		return errors.New("uninitialized Applicator")
	}
	s.subjects = make(map[uuid.UUID]*core.State)
	return nil
}

// HandleLogin constructs the subject's state (defaults for first-time
// subjects, hydrated from storage otherwise), applies its bonuses and adds
// it to the active set. Logging in an already-active subject returns the
// live state untouched.
func (s *Service) HandleLogin(ctx context.Context, characterID, accountID uuid.UUID) (*core.State, error) {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, active := s.subjects[key]; active {
		return st, nil
	}

	st := core.NewState(key, s.Catalogue.Scalars())
	level, experience, err := s.Storage.LoadState(ctx, key)
	switch {
	case err == nil:
		investments, err := s.Storage.LoadInvestments(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load investments: %w", err)
		}
		s.Engine.Restore(st, level, experience, investments)
	case errors.Is(err, core.ErrNotFound):
		// first sighting; keep catalogue defaults
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}

	s.Engine.SyncBonuses(st, true, s.Applicator)
	s.subjects[key] = st

	s.Logger.Info().
		Str("subject", key.String()).
		Int("level", st.Level()).
		Int("points", st.Points()).
		Msg("subject activated")
	return st, nil
}

// HandleLogout removes the subject's bonuses, saves its state and drops it
// from the active set. Logging out an inactive subject is a no-op.
func (s *Service) HandleLogout(ctx context.Context, characterID, accountID uuid.UUID) error {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, active := s.subjects[key]
	if !active {
		return nil
	}

	s.Engine.SyncBonuses(st, false, s.Applicator)
	if err := s.saveLocked(ctx, st); err != nil {
		// keep the subject active with its bonuses restored so the
		// in-memory delta survives for a later Save/SaveAll retry;
		// evicting here would discard it and re-hydrate stale rows
		s.Engine.SyncBonuses(st, true, s.Applicator)
		s.Logger.Error().Str("subject", key.String()).Err(err).Msg("logout save failed, subject kept active")
		return err
	}
	delete(s.subjects, key)

	s.Logger.Info().Str("subject", key.String()).Msg("subject deactivated")
	return nil
}

// GrantExperience routes a host trigger to the engine.
func (s *Service) GrantExperience(ctx context.Context, characterID, accountID uuid.UUID, source core.SourceKind, entryID uint32) error {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, active := s.subjects[key]
	if !active {
		return ErrSubjectNotActive
	}
	if err := s.Engine.GrantExperience(st, source, entryID); err != nil {
		if errors.Is(err, core.ErrMissingRewardConfig) {
			s.Logger.Debug().
				Str("subject", key.String()).
				Stringer("source", source).
				Uint32("entry", entryID).
				Msg("no reward configured, grant skipped")
		}
		return err
	}
	return nil
}

// The four host trigger events, each mapped onto its source kind.

func (s *Service) HandleCreatureKill(ctx context.Context, characterID, accountID uuid.UUID, creatureEntry uint32) error {
	return s.GrantExperience(ctx, characterID, accountID, core.SourceKindCreature, creatureEntry)
}

func (s *Service) HandleQuestComplete(ctx context.Context, characterID, accountID uuid.UUID, questID uint32) error {
	return s.GrantExperience(ctx, characterID, accountID, core.SourceKindQuest, questID)
}

func (s *Service) HandleAchievementEarned(ctx context.Context, characterID, accountID uuid.UUID, achievementID uint32) error {
	return s.GrantExperience(ctx, characterID, accountID, core.SourceKindAchievement, achievementID)
}

func (s *Service) HandleSkillIncrease(ctx context.Context, characterID, accountID uuid.UUID, skillID uint32) error {
	return s.GrantExperience(ctx, characterID, accountID, core.SourceKindSkill, skillID)
}

// ApplyUpdate runs a client-submitted allocation batch against the live
// subject. Durable storage is only written on logout, explicit Save or
// SaveAll; a crash between commit and save loses at most the in-memory
// delta, matching the host's explicit-save contract.
func (s *Service) ApplyUpdate(ctx context.Context, characterID, accountID uuid.UUID, changes []core.InvestmentChange) error {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, active := s.subjects[key]
	if !active {
		return ErrSubjectNotActive
	}

	err := s.Engine.ApplyInvestments(st, changes, s.Applicator)
	if err != nil {
		s.Logger.Warn().
			Str("subject", key.String()).
			Int("entries", len(changes)).
			Err(err).
			Msg("allocation batch failed")
	}
	return err
}

// Snapshot returns a point-in-time copy of an active subject's
// progression, taken under the service mutex. Render paths (the client
// protocol's load replies) must use this rather than holding the live
// state, which other sessions for the same subject keep mutating.
func (s *Service) Snapshot(characterID, accountID uuid.UUID) (core.StateSnapshot, error) {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, active := s.subjects[key]
	if !active {
		return core.StateSnapshot{}, ErrSubjectNotActive
	}
	return st.Snapshot(), nil
}

// Subject returns the live state for an active subject.
func (s *Service) Subject(characterID, accountID uuid.UUID) (*core.State, bool) {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, active := s.subjects[key]
	return st, active
}

// Save flushes one active subject to durable storage.
func (s *Service) Save(ctx context.Context, characterID, accountID uuid.UUID) error {
	key := s.Keys.SubjectKey(characterID, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, active := s.subjects[key]
	if !active {
		return ErrSubjectNotActive
	}
	return s.saveLocked(ctx, st)
}

// SaveAll flushes every active subject, used at daemon shutdown. Failures
// are logged per subject and the first one is returned after the sweep
// completes; one bad record must not strand the rest.
func (s *Service) SaveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for key, st := range s.subjects {
		if err := s.saveLocked(ctx, st); err != nil {
			s.Logger.Error().Str("subject", key.String()).Err(err).Msg("save failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) saveLocked(ctx context.Context, st *core.State) error {
	if err := s.Storage.SaveState(ctx, st.SubjectID(), st.Level(), st.CurrentExperience()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := s.Storage.SaveInvestments(ctx, st.SubjectID(), st.Investments()); err != nil {
		return fmt.Errorf("save investments: %w", err)
	}
	return nil
}
