package core

// The engine exposes five named extension points. Each point keeps an
// ordered list of handlers; firing a point walks the list in registration
// order, threading any replaced values into the next handler and returning
// the final values to the caller. There is no priority, cancellation or
// unregistration mechanism: a handler that wants to suppress downstream
// effects does so through the values it returns (for instance by zeroing
// an experience amount). The table is meant to be populated once during
// process initialization and read for the lifetime of the process, which
// is what makes lock-free concurrent firing safe.

// BeforeExperienceGrantFunc runs before a resolved reward is scaled and
// applied; it may substitute the source kind or entry id seen downstream.
type BeforeExperienceGrantFunc func(st *State, source SourceKind, entryID uint32) (SourceKind, uint32)

// ExperienceCalculatedFunc may rescale the pending reward amount.
type ExperienceCalculatedFunc func(st *State, source SourceKind, amount int) int

// AfterExperienceGrantFunc observes a completed experience grant.
type AfterExperienceGrantFunc func(st *State)

// LevelChangedFunc observes a completed level-up. It fires once per grant,
// never per intermediate level.
type LevelChangedFunc func(st *State, oldLevel, newLevel int)

// StatChangedFunc observes a committed investment change.
type StatChangedFunc func(st *State, statID uint32, oldValue, newValue int)

// Hooks is the registry backing the extension points.
type Hooks struct {
	beforeExperienceGrant []BeforeExperienceGrantFunc
	experienceCalculated  []ExperienceCalculatedFunc
	afterExperienceGrant  []AfterExperienceGrantFunc
	levelChanged          []LevelChangedFunc
	statChanged           []StatChangedFunc
}

func NewHooks() *Hooks {
	return &Hooks{}
}

// OnBeforeExperienceGrant appends a handler to the BeforeExperienceGrant
// point. Registration is additive and permanent.
func (h *Hooks) OnBeforeExperienceGrant(fn BeforeExperienceGrantFunc) {
	h.beforeExperienceGrant = append(h.beforeExperienceGrant, fn)
}

func (h *Hooks) OnExperienceCalculated(fn ExperienceCalculatedFunc) {
	h.experienceCalculated = append(h.experienceCalculated, fn)
}

func (h *Hooks) OnAfterExperienceGrant(fn AfterExperienceGrantFunc) {
	h.afterExperienceGrant = append(h.afterExperienceGrant, fn)
}

func (h *Hooks) OnLevelChanged(fn LevelChangedFunc) {
	h.levelChanged = append(h.levelChanged, fn)
}

func (h *Hooks) OnStatChanged(fn StatChangedFunc) {
	h.statChanged = append(h.statChanged, fn)
}

// FireBeforeExperienceGrant threads (source, entryID) through the
// registered handlers. With no handlers it returns its inputs unchanged.
func (h *Hooks) FireBeforeExperienceGrant(st *State, source SourceKind, entryID uint32) (SourceKind, uint32) {
	for _, fn := range h.beforeExperienceGrant {
		source, entryID = fn(st, source, entryID)
	}
	return source, entryID
}

// FireExperienceCalculated threads the pending amount through the
// registered handlers and returns the final amount.
func (h *Hooks) FireExperienceCalculated(st *State, source SourceKind, amount int) int {
	for _, fn := range h.experienceCalculated {
		amount = fn(st, source, amount)
	}
	return amount
}

func (h *Hooks) FireAfterExperienceGrant(st *State) {
	for _, fn := range h.afterExperienceGrant {
		fn(st)
	}
}

func (h *Hooks) FireLevelChanged(st *State, oldLevel, newLevel int) {
	for _, fn := range h.levelChanged {
		fn(st, oldLevel, newLevel)
	}
}

func (h *Hooks) FireStatChanged(st *State, statID uint32, oldValue, newValue int) {
	for _, fn := range h.statChanged {
		fn(st, statID, oldValue, newValue)
	}
}
