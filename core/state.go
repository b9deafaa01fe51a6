package core

import (
	"github.com/satori/go.uuid"
)

// NewState constructs a fresh subject at the catalogue's starting level
// with no investments. Callers hydrating a persisted subject should follow
// up with Engine.Restore.
func NewState(subjectID uuid.UUID, scalars Scalars) *State {
	level := scalars.StartingLevel
	if level < 1 {
		level = 1
	}
	st := &State{
		subjectID:   subjectID,
		level:       level,
		currentXP:   scalars.StartingExperience,
		requiredXP:  scalars.BaseMaxExperience * level,
		investments: make(map[uint32]int),
	}
	st.recomputePoints(scalars.PointsPerLevel)
	return st
}

// State is the per-subject progression record: paragon level, experience
// towards the next level, available points and per-stat investments. It is
// mutated exclusively through Engine operations, which maintain the
// invariants points == level*pointsPerLevel - sum(investments) and
// 0 <= currentXP < requiredXP. State performs no locking of its own; the
// host must deliver events for one subject from a single serialized
// stream.
type State struct {
	subjectID   uuid.UUID
	level       int
	currentXP   int
	requiredXP  int
	points      int
	investments map[uint32]int
}

func (s *State) SubjectID() uuid.UUID {
	return s.subjectID
}

func (s *State) Level() int {
	return s.level
}

// CurrentExperience is the experience accumulated towards the next level.
func (s *State) CurrentExperience() int {
	return s.currentXP
}

// RequiredExperience is the threshold at which the next level is granted.
func (s *State) RequiredExperience() int {
	return s.requiredXP
}

// Points is the subject's available, uninvested point balance.
func (s *State) Points() int {
	return s.points
}

// Investment returns the points invested in one stat; absent stats are 0.
func (s *State) Investment(statID uint32) int {
	return s.investments[statID]
}

// Investments returns a copy of the sparse investment table.
func (s *State) Investments() map[uint32]int {
	out := make(map[uint32]int, len(s.investments))
	for id, v := range s.investments {
		out[id] = v
	}
	return out
}

// StateSnapshot is a point-in-time copy of a subject's progression. It
// shares nothing with the live State, so readers may hold it after the
// owning stream has moved on.
type StateSnapshot struct {
	SubjectID          uuid.UUID
	Level              int
	CurrentExperience  int
	RequiredExperience int
	Points             int
	Investments        map[uint32]int
}

// Snapshot copies the state's readable fields. The caller must hold
// whatever serializes mutation of this subject while taking it.
func (s *State) Snapshot() StateSnapshot {
	return StateSnapshot{
		SubjectID:          s.subjectID,
		Level:              s.level,
		CurrentExperience:  s.currentXP,
		RequiredExperience: s.requiredXP,
		Points:             s.points,
		Investments:        s.Investments(),
	}
}

// UsedPoints is the sum of all invested points.
func (s *State) UsedPoints() int {
	var used int
	for _, v := range s.investments {
		used += v
	}
	return used
}

// recomputePoints re-derives the available balance from level and
// investments rather than adjusting it incrementally, so the point budget
// can never drift.
func (s *State) recomputePoints(pointsPerLevel int) {
	points := s.level*pointsPerLevel - s.UsedPoints()
	if points < 0 {
		points = 0
	}
	s.points = points
}
