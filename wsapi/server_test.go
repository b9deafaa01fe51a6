package wsapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Merkerhood/paragon/core"
	"github.com/Merkerhood/paragon/service"
	myuuid "github.com/Merkerhood/paragon/uuid"
)

const (
	testStatDamage    uint32 = 10
	testCategoryID    uint32 = 1
	testCreatureEntry uint32 = 23954
)

func testCatalogue(t *testing.T) *core.Catalogue {
	t.Helper()
	categories := []core.Category{{
		ID:   testCategoryID,
		Name: "Offense",
		Stats: []core.StatDef{
			{ID: testStatDamage, CategoryID: testCategoryID, Kind: core.StatKindUnitModifier, TargetCode: 4, Factor: 1.5, Limit: 255, ApplicationCode: 1},
		},
	}}
	rewards := []core.ExperienceReward{
		{Source: core.SourceKindCreature, EntryID: testCreatureEntry, Amount: 60},
	}
	cat, err := core.NewCatalogue(categories, rewards, nil, core.Scalars{
		PointsPerLevel:    1,
		BaseMaxExperience: 50,
		StartingLevel:     1,
	})
	require.NoError(t, err)
	return cat
}

// fakeAuth accepts a single fixed credential pair and always resolves the
// same identity, so every accepted dial shares one subject.
type fakeAuth struct {
	accountID   uuid.UUID
	characterID uuid.UUID
}

func (fa *fakeAuth) DoLogin(user, pass string) (uuid.UUID, uuid.UUID, error) {
	if user != "tester" || pass != "hunter" {
		return uuid.Nil, uuid.Nil, authFailedError
	}
	return fa.accountID, fa.characterID, nil
}

var authFailedError = errors.New("bad username or passphrase")

// memStorage is an in-memory service.Storage double.
type memStorage struct {
	mu          sync.Mutex
	states      map[uuid.UUID][2]int
	investments map[uuid.UUID]map[uint32]int
}

func newMemStorage() *memStorage {
	return &memStorage{
		states:      make(map[uuid.UUID][2]int),
		investments: make(map[uuid.UUID]map[uint32]int),
	}
}

func (ms *memStorage) LoadState(_ context.Context, subjectID uuid.UUID) (int, int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	rec, found := ms.states[subjectID]
	if !found {
		return 0, 0, core.ErrNotFound
	}
	return rec[0], rec[1], nil
}

func (ms *memStorage) LoadInvestments(_ context.Context, subjectID uuid.UUID) (map[uint32]int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make(map[uint32]int)
	for id, v := range ms.investments[subjectID] {
		out[id] = v
	}
	return out, nil
}

func (ms *memStorage) SaveState(_ context.Context, subjectID uuid.UUID, level, experience int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.states[subjectID] = [2]int{level, experience}
	return nil
}

func (ms *memStorage) SaveInvestments(_ context.Context, subjectID uuid.UUID, investments map[uint32]int) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	stored := make(map[uint32]int)
	for id, v := range investments {
		stored[id] = v
	}
	ms.investments[subjectID] = stored
	return nil
}

type noopApplicator struct{}

func (noopApplicator) Apply(uuid.UUID, core.StatKind, uint32, float64, uint32) {}
func (noopApplicator) Remove(uuid.UUID, core.StatKind, uint32, uint32)         {}

// startTestServer runs a full stack (real service + engine) behind an
// httptest listener, with the shared subject pre-saved at level 5.
func startTestServer(t *testing.T) (*httptest.Server, *service.Service, uuid.UUID) {
	t.Helper()
	cat := testCatalogue(t)
	characterID := myuuid.NewId()

	storage := newMemStorage()
	storage.states[characterID] = [2]int{5, 0}

	svc := &service.Service{
		Engine:     core.NewEngine(cat, nil),
		Catalogue:  cat,
		Storage:    storage,
		Applicator: noopApplicator{},
		Keys:       service.KeyByCharacter,
		Logger:     zerolog.Nop(),
	}
	require.NoError(t, svc.Start())

	srv := &Server{
		AuthService: &fakeAuth{accountID: myuuid.NewId(), characterID: characterID},
		Progression: svc,
		Catalogue:   cat,
		Logger:      zerolog.Nop(),
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, svc, characterID
}

func dialTestServer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	h.Add("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("tester:hunter")))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, res, err := (&websocket.Dialer{}).Dial(wsURL, h)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, res.StatusCode)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// sendAndReceive is goroutine-safe for use on a private conn; assertions
// belong to the caller.
func sendAndReceive(conn *websocket.Conn, msgType string, payload interface{}) (Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
	}
	out := Message{
		Type:      msgType,
		MessageID: myuuid.NewId(),
		Payload:   payloadBytes,
	}
	outBytes, err := json.Marshal(out)
	if err != nil {
		return Message{}, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, outBytes); err != nil {
		return Message{}, err
	}

	_, inBytes, err := conn.ReadMessage()
	if err != nil {
		return Message{}, err
	}
	var in Message
	if err := json.Unmarshal(inBytes, &in); err != nil {
		return Message{}, err
	}
	if !uuid.Equal(in.MessageID, out.MessageID) {
		return in, errors.New("response does not echo the request id")
	}
	return in, nil
}

func roundTrip(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) Message {
	t.Helper()
	in, err := sendAndReceive(conn, msgType, payload)
	require.NoError(t, err)
	return in
}

func TestServer_RejectsBadCredentials(t *testing.T) {
	ts, _, _ := startTestServer(t)

	h := http.Header{}
	h.Add("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("tester:wrong")))
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, res, err := (&websocket.Dialer{}).Dial(wsURL, h)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestSession_LoadCommand(t *testing.T) {
	ts, _, _ := startTestServer(t)
	conn := dialTestServer(t, ts)

	res := roundTrip(t, conn, MessageTypeLoadCommand, nil)
	require.Equal(t, MessageTypeLoadComplete, res.Type)

	var snapshot CompleteLoad
	require.NoError(t, json.Unmarshal(res.Payload, &snapshot))
	assert.Equal(t, 5, snapshot.Level)
	assert.Equal(t, 5, snapshot.Points)
	require.Len(t, snapshot.Categories, 1)
	require.Len(t, snapshot.Categories[0].Stats, 1)
	assert.Equal(t, testStatDamage, snapshot.Categories[0].Stats[0].StatID)
	assert.Equal(t, 0, snapshot.Categories[0].Stats[0].Invested)
}

func TestSession_UpdateCommand(t *testing.T) {
	ts, svc, characterID := startTestServer(t)
	conn := dialTestServer(t, ts)

	res := roundTrip(t, conn, MessageTypeUpdateCommand, CommandUpdate{
		Changes: []ChangeEntry{{CategoryID: testCategoryID, StatID: testStatDamage, Value: 3}},
	})
	require.Equal(t, MessageTypeUpdateComplete, res.Type)

	var snapshot CompleteLoad
	require.NoError(t, json.Unmarshal(res.Payload, &snapshot))
	assert.Equal(t, 2, snapshot.Points)
	assert.Equal(t, 3, snapshot.Categories[0].Stats[0].Invested)

	st, active := svc.Subject(characterID, uuid.Nil)
	require.True(t, active)
	assert.Equal(t, 3, st.Investment(testStatDamage))
}

func TestSession_UpdateCommandReportsFailures(t *testing.T) {
	ts, svc, characterID := startTestServer(t)
	conn := dialTestServer(t, ts)

	res := roundTrip(t, conn, MessageTypeUpdateCommand, CommandUpdate{
		Changes: []ChangeEntry{{CategoryID: testCategoryID, StatID: 9999, Value: 1}},
	})
	require.Equal(t, MessageTypeProcessingError, res.Type)

	st, active := svc.Subject(characterID, uuid.Nil)
	require.True(t, active)
	assert.Empty(t, st.Investments())
}

func TestSession_GrantCommand(t *testing.T) {
	ts, _, _ := startTestServer(t)
	conn := dialTestServer(t, ts)

	res := roundTrip(t, conn, MessageTypeGrantCommand, CommandGrant{
		Source:  "creature",
		EntryID: testCreatureEntry,
	})
	require.Equal(t, MessageTypeGrantComplete, res.Type)

	var snapshot CompleteLoad
	require.NoError(t, json.Unmarshal(res.Payload, &snapshot))
	assert.Equal(t, 5, snapshot.Level, "60 XP against a 250 threshold is no level-up")
	assert.Equal(t, 60, snapshot.CurrentExperience)

	res = roundTrip(t, conn, MessageTypeGrantCommand, CommandGrant{
		Source:  "quest",
		EntryID: 1,
	})
	require.Equal(t, MessageTypeProcessingError, res.Type, "unconfigured sources report, not crash")
}

// Two sessions for the same subject mutate and render it simultaneously.
// Snapshots are taken under the service mutex, so this must be clean under
// the race detector and every rendered payload must be internally
// consistent with the points-balance rule.
func TestSession_ConcurrentSessionsShareSubjectSafely(t *testing.T) {
	ts, _, _ := startTestServer(t)
	granter := dialTestServer(t, ts)
	loader := dialTestServer(t, ts)

	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			res, err := sendAndReceive(granter, MessageTypeGrantCommand, CommandGrant{
				Source:  "creature",
				EntryID: testCreatureEntry,
			})
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, MessageTypeGrantComplete, res.Type)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			res, err := sendAndReceive(loader, MessageTypeLoadCommand, nil)
			if !assert.NoError(t, err) {
				return
			}
			if !assert.Equal(t, MessageTypeLoadComplete, res.Type) {
				continue
			}
			var snapshot CompleteLoad
			if !assert.NoError(t, json.Unmarshal(res.Payload, &snapshot)) {
				continue
			}
			invested := 0
			for _, cat := range snapshot.Categories {
				for _, st := range cat.Stats {
					invested += st.Invested
				}
			}
			assert.Equal(t, snapshot.Level-invested, snapshot.Points)
			assert.Less(t, snapshot.CurrentExperience, snapshot.RequiredExperience)
		}
	}()
	wg.Wait()

	res := roundTrip(t, loader, MessageTypeLoadCommand, nil)
	require.Equal(t, MessageTypeLoadComplete, res.Type)
	var final CompleteLoad
	require.NoError(t, json.Unmarshal(res.Payload, &final))
	assert.Equal(t, 12, final.Level, "3000 XP from level 5 consumes the 250..550 thresholds")
	assert.Equal(t, 200, final.CurrentExperience)
}
