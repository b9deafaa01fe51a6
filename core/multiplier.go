package core

// NewLevelBandMultiplier builds an ExperienceCalculated handler that
// rescales rewards by the subject's level band: subjects below the low
// threshold earn at the low multiplier, subjects above the high threshold
// at the high multiplier, everyone else at face value. A zero threshold
// disables its band. Register it once at startup:
//
//	hooks.OnExperienceCalculated(core.NewLevelBandMultiplier(cat.Scalars()))
func NewLevelBandMultiplier(sc Scalars) ExperienceCalculatedFunc {
	return func(st *State, _ SourceKind, amount int) int {
		switch {
		case sc.LowLevelThreshold > 0 && st.Level() < sc.LowLevelThreshold:
			return int(float64(amount) * sc.LowLevelMultiplier)
		case sc.HighLevelThreshold > 0 && st.Level() > sc.HighLevelThreshold:
			return int(float64(amount) * sc.HighLevelMultiplier)
		default:
			return amount
		}
	}
}
