package core

import (
	"sort"
)

// NewEngine binds the progression algorithms to a catalogue and a hook
// registry. A nil hooks argument gets an empty registry, so a bare engine
// still works for hosts that never register extensions.
func NewEngine(catalogue *Catalogue, hooks *Hooks) *Engine {
	if hooks == nil {
		hooks = NewHooks()
	}
	return &Engine{
		catalogue: catalogue,
		hooks:     hooks,
	}
}

// Engine implements experience intake with cascading level-up, validated
// point allocation and bonus synchronization. It holds no per-subject
// state and performs no locking; callers serialize access per subject.
type Engine struct {
	catalogue *Catalogue
	hooks     *Hooks
}

// Hooks exposes the engine's extension point registry so hosts can attach
// handlers during initialization.
func (e *Engine) Hooks() *Hooks {
	return e.hooks
}

// GrantExperience resolves the configured reward for (source, entryID),
// lets hooks inspect and rescale it, then runs the cascading level-up. It
// returns ErrMissingRewardConfig, without mutating state, when neither a
// specific nor a universal reward exists for the source.
func (e *Engine) GrantExperience(st *State, source SourceKind, entryID uint32) error {
	amount, found := e.catalogue.RewardFor(source, entryID)
	if !found {
		return ErrMissingRewardConfig
	}

	source, entryID = e.hooks.FireBeforeExperienceGrant(st, source, entryID)
	amount = e.hooks.FireExperienceCalculated(st, source, amount)
	if amount < 0 {
		// a hook rescaled the reward below zero; experience only moves forward
		amount = 0
	}

	e.applyExperience(st, amount)
	e.hooks.FireAfterExperienceGrant(st)
	return nil
}

// applyExperience runs the cascading level-up: consume thresholds until
// the remainder no longer covers one, raising the level each time. All
// level-ups earned by one grant are processed in a single call. Reaching a
// positive level cap stops the cascade immediately; experience beyond the
// cap is retained but clamped below the threshold, so further grants are
// inert. LevelChanged fires once after the cascade, never per step.
func (e *Engine) applyExperience(st *State, amount int) {
	sc := e.catalogue.scalars
	oldLevel := st.level

	total := st.currentXP + amount
	for sc.BaseMaxExperience > 0 && total >= st.requiredXP {
		if sc.LevelCap > 0 && st.level >= sc.LevelCap {
			break
		}
		total -= st.requiredXP
		st.level++
		st.requiredXP = sc.BaseMaxExperience * st.level
	}
	if sc.LevelCap > 0 && st.level >= sc.LevelCap && total >= st.requiredXP {
		total = st.requiredXP - 1
	}
	st.currentXP = total
	st.recomputePoints(sc.PointsPerLevel)

	if st.level > oldLevel {
		e.hooks.FireLevelChanged(st, oldLevel, st.level)
	}
}

// SetInvestment validates and commits a single stat allocation. The new
// value replaces the old one outright; the point delta may be negative
// (refunding points). Failures leave the state untouched.
func (e *Engine) SetInvestment(st *State, statID uint32, newValue int) error {
	def, found := e.catalogue.StatByID(statID)
	if !found {
		return ErrInvalidStat
	}
	if newValue < 0 {
		return ErrInvalidValue
	}
	if def.Limit > 0 && newValue > def.Limit {
		return ErrLimitExceeded
	}

	oldValue := st.investments[statID]
	if newValue-oldValue > st.points {
		return ErrInsufficientPoints
	}

	if newValue == 0 {
		delete(st.investments, statID)
	} else {
		st.investments[statID] = newValue
	}
	st.recomputePoints(e.catalogue.scalars.PointsPerLevel)

	e.hooks.FireStatChanged(st, statID, oldValue, newValue)
	return nil
}

// InvestmentChange is one entry of a batched allocation request, as
// submitted by the client protocol.
type InvestmentChange struct {
	CategoryID uint32
	StatID     uint32
	Value      int
}

// ApplyInvestments processes a batched allocation request.
//
// The batch's net point delta is validated up front: a request that would
// overdraw the available balance fails atomically with
// ErrInsufficientPoints before any bonus is touched. Past that gate the
// entries commit one at a time; the first entry failing validation aborts
// the remainder but leaves earlier entries committed. Whatever the
// outcome, bonuses are removed before the first commit and re-applied
// after the last, so the subject's active modifiers always match the
// committed investments and are never left stale or missing.
func (e *Engine) ApplyInvestments(st *State, changes []InvestmentChange, applicator BonusApplicator) error {
	if err := e.checkBatchBudget(st, changes); err != nil {
		return err
	}

	e.SyncBonuses(st, false, applicator)

	var firstErr error
	for _, ch := range changes {
		def, found := e.catalogue.StatByID(ch.StatID)
		if !found || def.CategoryID != ch.CategoryID {
			firstErr = ErrInvalidStat
			break
		}
		if err := e.SetInvestment(st, ch.StatID, ch.Value); err != nil {
			firstErr = err
			break
		}
	}

	e.SyncBonuses(st, true, applicator)
	return firstErr
}

// checkBatchBudget simulates the batch against a scratch copy of the
// investment table and rejects it when the net point delta exceeds the
// available balance. Entries that can never commit (unknown stat,
// category mismatch, negative value, over the stat limit) are skipped
// here; they fail individually during the commit loop and must not
// inflate the simulated spend.
func (e *Engine) checkBatchBudget(st *State, changes []InvestmentChange) error {
	scratch := st.Investments()
	for _, ch := range changes {
		def, found := e.catalogue.StatByID(ch.StatID)
		if !found || def.CategoryID != ch.CategoryID {
			continue
		}
		if ch.Value < 0 {
			continue
		}
		if def.Limit > 0 && ch.Value > def.Limit {
			continue
		}
		scratch[ch.StatID] = ch.Value
	}
	var used int
	for _, v := range scratch {
		used += v
	}
	if used-st.UsedPoints() > st.points {
		return ErrInsufficientPoints
	}
	return nil
}

// SyncBonuses walks the subject's positive investments in stat id order
// and instructs the applicator to apply or remove each one. Removal is
// idempotent: clearing twice leaves the same (empty) applied set. This
// must be invoked in matched remove/apply pairs around any investment
// mutation.
func (e *Engine) SyncBonuses(st *State, apply bool, applicator BonusApplicator) {
	statIDs := make([]uint32, 0, len(st.investments))
	for statID := range st.investments {
		statIDs = append(statIDs, statID)
	}
	sort.Slice(statIDs, func(i, j int) bool { return statIDs[i] < statIDs[j] })

	for _, statID := range statIDs {
		value := st.investments[statID]
		if value <= 0 {
			continue
		}
		def, found := e.catalogue.StatByID(statID)
		if !found {
			continue
		}

		switch def.Kind {
		case StatKindAura:
			if apply {
				// auras stack by repetition: one grant per invested point
				for i := 0; i < value; i++ {
					applicator.Apply(st.subjectID, def.Kind, def.TargetCode, 1, def.ApplicationCode)
				}
			} else {
				// a single removal fully clears the aura stack
				applicator.Remove(st.subjectID, def.Kind, def.TargetCode, def.ApplicationCode)
			}
		default:
			magnitude := float64(value) * def.Factor
			if apply {
				applicator.Apply(st.subjectID, def.Kind, def.TargetCode, magnitude, def.ApplicationCode)
			} else {
				applicator.Remove(st.subjectID, def.Kind, def.TargetCode, def.ApplicationCode)
			}
		}
	}
}

// Restore overwrites a subject's progression from persisted values,
// re-deriving the level threshold and point balance and clamping anything
// a config change has since made unreachable.
func (e *Engine) Restore(st *State, level, experience int, investments map[uint32]int) {
	sc := e.catalogue.scalars

	if level < 1 {
		level = 1
	}
	if sc.LevelCap > 0 && level > sc.LevelCap {
		level = sc.LevelCap
	}
	st.level = level
	st.requiredXP = sc.BaseMaxExperience * level

	if experience < 0 {
		experience = 0
	}
	if experience >= st.requiredXP {
		experience = st.requiredXP - 1
	}
	st.currentXP = experience

	st.investments = make(map[uint32]int, len(investments))
	for statID, value := range investments {
		if value <= 0 {
			continue
		}
		st.investments[statID] = value
	}
	st.recomputePoints(sc.PointsPerLevel)
}

// RecalculatePoints re-derives the available point balance; hosts call it
// after mutating investments out of band (there is no such path inside
// this package, but storage backfills may need it).
func (e *Engine) RecalculatePoints(st *State) {
	st.recomputePoints(e.catalogue.scalars.PointsPerLevel)
}
