package main

import (
	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"

	"github.com/Merkerhood/paragon/core"
)

// logApplicator stands in for the host's stat system. In production the
// engine's bonus calls land on the combat engine's unit modifiers, combat
// ratings and auras; the standalone daemon records them instead.
type logApplicator struct {
	logger zerolog.Logger
}

func (la *logApplicator) Apply(subjectID uuid.UUID, kind core.StatKind, targetCode uint32, magnitudeOrCount float64, applicationCode uint32) {
	la.logger.Info().
		Str("subject", subjectID.String()).
		Stringer("kind", kind).
		Uint32("target", targetCode).
		Float64("magnitude", magnitudeOrCount).
		Uint32("application", applicationCode).
		Msg("bonus applied")
}

func (la *logApplicator) Remove(subjectID uuid.UUID, kind core.StatKind, targetCode uint32, applicationCode uint32) {
	la.logger.Info().
		Str("subject", subjectID.String()).
		Stringer("kind", kind).
		Uint32("target", targetCode).
		Uint32("application", applicationCode).
		Msg("bonus removed")
}
