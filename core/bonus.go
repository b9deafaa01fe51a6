package core

import (
	"github.com/satori/go.uuid"
)

// BonusApplicator is the host-implemented capability to add or remove a
// concrete gameplay modifier on a subject. The engine never interprets
// targetCode or applicationCode; both come from the stat definition and
// pass through verbatim.
//
// For StatKindAura, Apply is called once per invested point with a count
// of 1 (auras stack by repetition) while Remove is called exactly once and
// must fully clear the aura regardless of stack height. The other kinds
// receive a single Apply/Remove carrying the magnitude value*factor.
type BonusApplicator interface {
	Apply(subjectID uuid.UUID, kind StatKind, targetCode uint32, magnitudeOrCount float64, applicationCode uint32)
	Remove(subjectID uuid.UUID, kind StatKind, targetCode uint32, applicationCode uint32)
}
