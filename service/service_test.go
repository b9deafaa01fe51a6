package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merkerhood/paragon/core"
	myuuid "github.com/Merkerhood/paragon/uuid"
)

const (
	statDamage uint32 = 10
	categoryID uint32 = 1

	creatureEntry uint32 = 23954
)

func newTestCatalogue(t *testing.T) *core.Catalogue {
	t.Helper()
	categories := []core.Category{{
		ID:   categoryID,
		Name: "Offense",
		Stats: []core.StatDef{
			{ID: statDamage, CategoryID: categoryID, Kind: core.StatKindUnitModifier, TargetCode: 4, Factor: 1.5, Limit: 255, ApplicationCode: 1},
		},
	}}
	rewards := []core.ExperienceReward{
		{Source: core.SourceKindCreature, EntryID: creatureEntry, Amount: 60},
	}
	cat, err := core.NewCatalogue(categories, rewards, nil, core.Scalars{
		PointsPerLevel:    1,
		BaseMaxExperience: 50,
		StartingLevel:     1,
	})
	require.NoError(t, err)
	return cat
}

// memoryStorage is an in-memory Storage double.
type memoryStorage struct {
	states      map[uuid.UUID][2]int
	investments map[uuid.UUID]map[uint32]int
	saveCalls   int
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		states:      make(map[uuid.UUID][2]int),
		investments: make(map[uuid.UUID]map[uint32]int),
	}
}

func (ms *memoryStorage) LoadState(_ context.Context, subjectID uuid.UUID) (int, int, error) {
	rec, found := ms.states[subjectID]
	if !found {
		return 0, 0, core.ErrNotFound
	}
	return rec[0], rec[1], nil
}

func (ms *memoryStorage) LoadInvestments(_ context.Context, subjectID uuid.UUID) (map[uint32]int, error) {
	out := make(map[uint32]int)
	for id, v := range ms.investments[subjectID] {
		out[id] = v
	}
	return out, nil
}

func (ms *memoryStorage) SaveState(_ context.Context, subjectID uuid.UUID, level, experience int) error {
	ms.saveCalls++
	ms.states[subjectID] = [2]int{level, experience}
	return nil
}

func (ms *memoryStorage) SaveInvestments(_ context.Context, subjectID uuid.UUID, investments map[uint32]int) error {
	stored := make(map[uint32]int)
	for id, v := range investments {
		stored[id] = v
	}
	ms.investments[subjectID] = stored
	return nil
}

// flakyStorage is a memoryStorage whose saves can be made to fail.
type flakyStorage struct {
	*memoryStorage
	failSaves bool
}

func (fs *flakyStorage) SaveState(ctx context.Context, subjectID uuid.UUID, level, experience int) error {
	if fs.failSaves {
		return errors.New("disk full")
	}
	return fs.memoryStorage.SaveState(ctx, subjectID, level, experience)
}

// countingApplicator tallies applied/removed bonuses per subject.
type countingApplicator struct {
	applied int
	removed int
}

func (ca *countingApplicator) Apply(uuid.UUID, core.StatKind, uint32, float64, uint32) {
	ca.applied++
}

func (ca *countingApplicator) Remove(uuid.UUID, core.StatKind, uint32, uint32) {
	ca.removed++
}

func newTestService(t *testing.T, storage Storage, applicator core.BonusApplicator, keys KeyStrategy) *Service {
	t.Helper()
	cat := newTestCatalogue(t)
	svc := &Service{
		Engine:     core.NewEngine(cat, nil),
		Catalogue:  cat,
		Storage:    storage,
		Applicator: applicator,
		Keys:       keys,
		Logger:     zerolog.Nop(),
	}
	require.NoError(t, svc.Start())
	return svc
}

func TestService_LoginFirstTimeUsesDefaults(t *testing.T) {
	svc := newTestService(t, newMemoryStorage(), &countingApplicator{}, KeyByCharacter)
	characterID, accountID := myuuid.NewId(), myuuid.NewId()

	st, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Level())
	assert.Equal(t, 0, st.CurrentExperience())
	assert.Equal(t, characterID, st.SubjectID())
}

func TestService_LoginHydratesAndAppliesBonuses(t *testing.T) {
	storage := newMemoryStorage()
	characterID, accountID := myuuid.NewId(), myuuid.NewId()
	storage.states[characterID] = [2]int{8, 25}
	storage.investments[characterID] = map[uint32]int{statDamage: 3}

	applicator := &countingApplicator{}
	svc := newTestService(t, storage, applicator, KeyByCharacter)

	st, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	assert.Equal(t, 8, st.Level())
	assert.Equal(t, 25, st.CurrentExperience())
	assert.Equal(t, 3, st.Investment(statDamage))
	assert.Equal(t, 5, st.Points())
	assert.Equal(t, 1, applicator.applied, "persisted bonuses re-applied on login")

	// a second login for the same subject reuses the live state
	again, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	assert.Same(t, st, again)
	assert.Equal(t, 1, applicator.applied)
}

func TestService_LogoutRemovesBonusesAndSaves(t *testing.T) {
	storage := newMemoryStorage()
	applicator := &countingApplicator{}
	svc := newTestService(t, storage, applicator, KeyByCharacter)
	characterID, accountID := myuuid.NewId(), myuuid.NewId()

	_, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCreatureKill(context.Background(), characterID, accountID, creatureEntry))
	require.NoError(t, svc.ApplyUpdate(context.Background(), characterID, accountID, []core.InvestmentChange{
		{CategoryID: categoryID, StatID: statDamage, Value: 1},
	}))

	require.NoError(t, svc.HandleLogout(context.Background(), characterID, accountID))
	assert.Equal(t, 1, applicator.removed)
	assert.Equal(t, [2]int{2, 10}, storage.states[characterID], "60 XP from level 1: one level-up, 10 left over")
	assert.Equal(t, map[uint32]int{statDamage: 1}, storage.investments[characterID])

	_, active := svc.Subject(characterID, accountID)
	assert.False(t, active)

	// round-trip: the next login reproduces the saved progression
	st, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Level())
	assert.Equal(t, 10, st.CurrentExperience())
	assert.Equal(t, 1, st.Investment(statDamage))
}

func TestService_LogoutKeepsSubjectWhenSaveFails(t *testing.T) {
	storage := &flakyStorage{memoryStorage: newMemoryStorage()}
	applicator := &countingApplicator{}
	svc := newTestService(t, storage, applicator, KeyByCharacter)
	characterID, accountID := myuuid.NewId(), myuuid.NewId()

	_, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCreatureKill(context.Background(), characterID, accountID, creatureEntry))
	require.NoError(t, svc.ApplyUpdate(context.Background(), characterID, accountID, []core.InvestmentChange{
		{CategoryID: categoryID, StatID: statDamage, Value: 1},
	}))

	storage.failSaves = true
	err = svc.HandleLogout(context.Background(), characterID, accountID)
	require.Error(t, err)

	// the subject stays active with its bonuses restored; the in-memory
	// delta is not discarded against unsaved rows
	st, active := svc.Subject(characterID, accountID)
	require.True(t, active)
	assert.Equal(t, 2, st.Level())
	assert.Equal(t, 1, st.Investment(statDamage))
	assert.Equal(t, 2, applicator.applied, "bonus re-applied after the failed save")
	assert.Equal(t, 1, applicator.removed)
	assert.Empty(t, storage.states, "nothing persisted")

	// once storage recovers, a retried logout saves and evicts normally
	storage.failSaves = false
	require.NoError(t, svc.HandleLogout(context.Background(), characterID, accountID))
	_, active = svc.Subject(characterID, accountID)
	assert.False(t, active)
	assert.Equal(t, [2]int{2, 10}, storage.states[characterID])
	assert.Equal(t, map[uint32]int{statDamage: 1}, storage.investments[characterID])
}

func TestService_SnapshotCopiesLiveState(t *testing.T) {
	svc := newTestService(t, newMemoryStorage(), &countingApplicator{}, KeyByCharacter)
	characterID, accountID := myuuid.NewId(), myuuid.NewId()

	_, err := svc.Snapshot(characterID, accountID)
	assert.ErrorIs(t, err, ErrSubjectNotActive)

	_, err = svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCreatureKill(context.Background(), characterID, accountID, creatureEntry))

	snap, err := svc.Snapshot(characterID, accountID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, 10, snap.CurrentExperience)
	assert.Equal(t, 100, snap.RequiredExperience)
	assert.Equal(t, 2, snap.Points)

	// the snapshot is detached: later mutations do not leak into it, and
	// writing to its investment map cannot corrupt the live subject
	require.NoError(t, svc.ApplyUpdate(context.Background(), characterID, accountID, []core.InvestmentChange{
		{CategoryID: categoryID, StatID: statDamage, Value: 1},
	}))
	assert.Empty(t, snap.Investments)
	snap.Investments[statDamage] = 99
	st, _ := svc.Subject(characterID, accountID)
	assert.Equal(t, 1, st.Investment(statDamage))
}

func TestService_TriggersRequireActiveSubject(t *testing.T) {
	svc := newTestService(t, newMemoryStorage(), &countingApplicator{}, KeyByCharacter)

	err := svc.HandleCreatureKill(context.Background(), myuuid.NewId(), myuuid.NewId(), creatureEntry)
	assert.ErrorIs(t, err, ErrSubjectNotActive)
}

func TestService_MissingRewardPropagates(t *testing.T) {
	svc := newTestService(t, newMemoryStorage(), &countingApplicator{}, KeyByCharacter)
	characterID, accountID := myuuid.NewId(), myuuid.NewId()
	_, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)

	// no skill rewards are configured at all
	err = svc.HandleSkillIncrease(context.Background(), characterID, accountID, 186)
	assert.ErrorIs(t, err, core.ErrMissingRewardConfig)
}

func TestService_UpdateDoesNotAutosave(t *testing.T) {
	storage := newMemoryStorage()
	svc := newTestService(t, storage, &countingApplicator{}, KeyByCharacter)
	characterID, accountID := myuuid.NewId(), myuuid.NewId()
	_, err := svc.HandleLogin(context.Background(), characterID, accountID)
	require.NoError(t, err)

	require.NoError(t, svc.ApplyUpdate(context.Background(), characterID, accountID, []core.InvestmentChange{
		{CategoryID: categoryID, StatID: statDamage, Value: 1},
	}))
	assert.Zero(t, storage.saveCalls, "allocation commits in memory only")

	require.NoError(t, svc.SaveAll(context.Background()))
	assert.Equal(t, 1, storage.saveCalls)
	assert.Equal(t, map[uint32]int{statDamage: 1}, storage.investments[characterID])
}

func TestKeyStrategy_SelectsSubjectKey(t *testing.T) {
	characterID, accountID := myuuid.NewId(), myuuid.NewId()
	assert.Equal(t, characterID, KeyByCharacter.SubjectKey(characterID, accountID))
	assert.Equal(t, accountID, KeyByAccount.SubjectKey(characterID, accountID))
}

func TestService_AccountScopedProgression(t *testing.T) {
	storage := newMemoryStorage()
	svc := newTestService(t, storage, &countingApplicator{}, KeyByAccount)
	accountID := myuuid.NewId()
	firstChar, secondChar := myuuid.NewId(), myuuid.NewId()

	st, err := svc.HandleLogin(context.Background(), firstChar, accountID)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCreatureKill(context.Background(), firstChar, accountID, creatureEntry))
	require.Equal(t, 2, st.Level())

	// a different character on the same account shares the progression
	other, err := svc.HandleLogin(context.Background(), secondChar, accountID)
	require.NoError(t, err)
	assert.Same(t, st, other)
}
