package wsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"

	"github.com/Merkerhood/paragon/core"
)

// AuthService verifies addon credentials and resolves the session's
// identity pair.
type AuthService interface {
	DoLogin(user, pass string) (accountID, characterID uuid.UUID, err error)
}

// ProgressionService is the slice of the progression service a session
// drives.
type ProgressionService interface {
	HandleLogin(ctx context.Context, characterID, accountID uuid.UUID) (*core.State, error)
	HandleLogout(ctx context.Context, characterID, accountID uuid.UUID) error
	ApplyUpdate(ctx context.Context, characterID, accountID uuid.UUID, changes []core.InvestmentChange) error
	GrantExperience(ctx context.Context, characterID, accountID uuid.UUID, source core.SourceKind, entryID uint32) error
	// Snapshot is the only read path sessions may use: the live state
	// handed back by HandleLogin is shared between every session for the
	// subject and is only safe to touch under the service's own lock.
	Snapshot(characterID, accountID uuid.UUID) (core.StateSnapshot, error)
}

const (
	DefaultMessageSendQueueLen = 15
	DefaultListenAddr          = ":4011"
)

// Server terminates the addon channel: it authenticates each websocket
// connection, activates the subject, and hands the connection to a session
// that speaks the paragon-prefixed message protocol.
type Server struct {
	ListenAddrString    string
	AuthService         AuthService
	Progression         ProgressionService
	Catalogue           *core.Catalogue
	MessageSendQueueLen int
	Logger              zerolog.Logger
	httpServer          *http.Server
	upgrader            *websocket.Upgrader
}

func (s *Server) Start() error {
	if s.AuthService == nil {
		return errors.New("uninitialized AuthService")
	}
	if s.Progression == nil {
		return errors.New("uninitialized Progression")
	}
	if s.Catalogue == nil {
		return errors.New("uninitialized Catalogue")
	}

	if s.MessageSendQueueLen == 0 {
		s.MessageSendQueueLen = DefaultMessageSendQueueLen
	}
	if s.ListenAddrString == "" {
		s.ListenAddrString = DefaultListenAddr
	}
	s.httpServer = &http.Server{
		Addr:    s.ListenAddrString,
		Handler: s,
	}
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("http.Server.ListenAndServe()")
		}
	}()
	return nil
}

func (s *Server) Stop() {
	_ = s.httpServer.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	user, pass, ok := req.BasicAuth()
	if !ok {
		s.Logger.Debug().Msg("no BasicAuth creds provided")
		http.Error(w, "", http.StatusForbidden)
		return
	}
	accountID, characterID, err := s.AuthService.DoLogin(user, pass)
	if err != nil {
		s.Logger.Debug().Str("user", user).Err(err).Msg("login rejected")
		http.Error(w, "", http.StatusForbidden)
		return
	}
	s.Logger.Info().Str("user", user).Msg("login accepted, upgrading to websocket")

	if s.upgrader == nil {
		s.upgrader = &websocket.Upgrader{}
	}
	conn, err := s.upgrader.Upgrade(w, req, http.Header{})
	if err != nil {
		http.Error(w, fmt.Sprintf("websocket.Upgrader.Upgrade(): %s", err), http.StatusInternalServerError)
		return
	}

	sess := &session{
		conn:         conn,
		progression:  s.Progression,
		catalogue:    s.Catalogue,
		accountID:    accountID,
		characterID:  characterID,
		sendQueueLen: s.MessageSendQueueLen,
		logger:       s.Logger.With().Str("character", characterID.String()).Logger(),
	}
	sess.start()
}
