package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"

	"github.com/Merkerhood/paragon/core"
)

var sourceKindsByName = map[string]core.SourceKind{
	"creature":    core.SourceKindCreature,
	"achievement": core.SourceKindAchievement,
	"skill":       core.SourceKindSkill,
	"quest":       core.SourceKindQuest,
}

type session struct {
	conn *websocket.Conn

	progression ProgressionService
	catalogue   *core.Catalogue
	accountID   uuid.UUID
	characterID uuid.UUID

	receiveChan  chan Message
	sendQueueLen int
	stopChan     chan struct{}
	stopWG       *sync.WaitGroup
	stopOnce     *sync.Once

	logger zerolog.Logger
}

func (s *session) start() {
	_, err := s.progression.HandleLogin(context.Background(), s.characterID, s.accountID)
	if err != nil {
		s.logger.Error().Err(err).Msg("subject activation failed")
		payload := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
		_ = s.conn.WriteMessage(websocket.CloseMessage, payload)
		_ = s.conn.Close()
		return
	}

	s.stopOnce = &sync.Once{}
	s.stopChan = make(chan struct{})
	s.receiveChan = make(chan Message, s.sendQueueLen)
	go s.receiveLoop()
	go s.mainLoop()
}

func (s *session) stop() {
	// Wrapped in a sync.Once because the read and dispatch goroutines both
	// call it async on their respective failure paths.
	stopFunc := func() {
		s.stopWG = &sync.WaitGroup{}
		s.stopWG.Add(2)
		close(s.stopChan)
		s.stopWG.Wait()

		// ignore errors on the shutdown message; we may be stopping
		// because the connection is already broken
		_ = s.conn.WriteMessage(websocket.CloseNormalClosure, []byte("terminating connection"))
		_ = s.conn.Close()

		if err := s.progression.HandleLogout(context.Background(), s.characterID, s.accountID); err != nil {
			s.logger.Error().Err(err).Msg("subject deactivation failed")
		}
	}
	s.stopOnce.Do(stopFunc)
}

func (s *session) receiveLoop() {
	for {
		select {
		case <-s.stopChan:
			s.stopWG.Done()
			return
		default:
		}

		msgType, msgBytes, err := s.conn.ReadMessage()
		if err != nil {
			if !isAnyWebsocketCloseErrorHelper(err) {
				s.logger.Error().Err(err).Msg("conn.ReadMessage()")
			}
			go s.stop()
			continue
		}
		switch msgType {
		case websocket.CloseMessage:
			go s.stop()
			continue
		case websocket.TextMessage:
			// fall through to decoding
		default:
			s.sendCloseAndStop(websocket.CloseUnsupportedData, fmt.Sprintf("unhandleable message type %d", msgType))
			continue
		}

		var msg Message
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			s.logger.Error().Err(err).Msg("json.Unmarshal()")
			s.sendCloseAndStop(websocket.ClosePolicyViolation, "message JSON data cannot be decoded")
			continue
		}
		s.receiveChan <- msg
	}
}

func (s *session) mainLoop() {
	for {
		select {
		case <-s.stopChan:
			s.stopWG.Done()
			return
		case msg := <-s.receiveChan:
			switch msg.Type {
			case MessageTypeLoadCommand:
				s.handleCommandLoad(msg)
			case MessageTypeUpdateCommand:
				s.handleCommandUpdate(msg)
			case MessageTypeGrantCommand:
				s.handleCommandGrant(msg)
			default:
				s.logger.Error().Str("type", msg.Type).Msg("session received unhandleable message type")
				s.sendCloseAndStop(websocket.CloseProtocolError, fmt.Sprintf("unhandleable API message type %q", msg.Type))
			}
		}
	}
}

func (s *session) sendCloseAndStop(closeCode int, closeText string) {
	payload := websocket.FormatCloseMessage(closeCode, closeText)
	_ = s.conn.WriteMessage(websocket.CloseMessage, payload)
	go s.stop()
}

func (s *session) sendMessage(typ string, payload interface{}, id uuid.UUID) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("json.Marshal(payload)")
		s.sendCloseAndStop(websocket.CloseInternalServerErr, "")
		return
	}
	msg := Message{
		Type:      typ,
		MessageID: id,
		Payload:   payloadBytes,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("json.Marshal(message)")
		s.sendCloseAndStop(websocket.CloseInternalServerErr, "")
		return
	}
	err = s.conn.WriteMessage(websocket.TextMessage, msgBytes)
	if err != nil {
		if !isAnyWebsocketCloseErrorHelper(err) {
			s.logger.Error().Err(err).Msg("conn.WriteMessage()")
			s.sendCloseAndStop(websocket.CloseInternalServerErr, "")
		} else {
			go s.stop()
		}
	}
}

func (s *session) handleCommandLoad(msg Message) {
	s.sendSnapshot(MessageTypeLoadComplete, msg.MessageID)
}

// sendSnapshot replies with the subject's refreshed progression snapshot,
// taken through the service so the copy happens under its lock.
func (s *session) sendSnapshot(typ string, id uuid.UUID) {
	snap, err := s.progression.Snapshot(s.characterID, s.accountID)
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot failed")
		s.sendCloseAndStop(websocket.CloseInternalServerErr, "")
		return
	}
	s.sendMessage(typ, s.loadPayload(snap), id)
}

func (s *session) handleCommandUpdate(msg Message) {
	var cmd CommandUpdate
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		s.logger.Error().Err(err).Msg("json.Unmarshal()")
		s.sendCloseAndStop(websocket.ClosePolicyViolation, "message JSON data cannot be decoded")
		return
	}

	changes := make([]core.InvestmentChange, len(cmd.Changes))
	for i, ch := range cmd.Changes {
		changes[i] = core.InvestmentChange{
			CategoryID: ch.CategoryID,
			StatID:     ch.StatID,
			Value:      ch.Value,
		}
	}

	err := s.progression.ApplyUpdate(context.Background(), s.characterID, s.accountID, changes)
	if err != nil {
		// partially-committed batches still report their committed entries
		// through the refreshed snapshot the client requests next
		s.sendMessage(MessageTypeProcessingError, err.Error(), msg.MessageID)
		return
	}
	s.sendSnapshot(MessageTypeUpdateComplete, msg.MessageID)
}

func (s *session) handleCommandGrant(msg Message) {
	var cmd CommandGrant
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		s.logger.Error().Err(err).Msg("json.Unmarshal()")
		s.sendCloseAndStop(websocket.ClosePolicyViolation, "message JSON data cannot be decoded")
		return
	}

	source, known := sourceKindsByName[cmd.Source]
	if !known {
		s.sendMessage(MessageTypeProcessingError, fmt.Sprintf("unknown source kind %q", cmd.Source), msg.MessageID)
		return
	}

	err := s.progression.GrantExperience(context.Background(), s.characterID, s.accountID, source, cmd.EntryID)
	if err != nil {
		if errors.Is(err, core.ErrMissingRewardConfig) {
			s.sendMessage(MessageTypeProcessingError, err.Error(), msg.MessageID)
			return
		}
		s.logger.Error().Err(err).Msg("grant failed")
		s.sendCloseAndStop(websocket.CloseInternalServerErr, "")
		return
	}
	s.sendSnapshot(MessageTypeGrantComplete, msg.MessageID)
}

// isAnyWebsocketCloseErrorHelper reports whether err is any RFC 6455
// close, expected or not; those are connection lifecycle, not faults worth
// logging.
func isAnyWebsocketCloseErrorHelper(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseProtocolError,
		websocket.CloseUnsupportedData,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
		websocket.CloseInvalidFramePayloadData,
		websocket.ClosePolicyViolation,
		websocket.CloseMessageTooBig,
		websocket.CloseMandatoryExtension,
		websocket.CloseInternalServerErr,
		websocket.CloseServiceRestart,
		websocket.CloseTryAgainLater,
		websocket.CloseTLSHandshake,
	)
}

// loadPayload renders a progression snapshot with the full catalogue
// annotated by the snapshot's investments.
func (s *session) loadPayload(snap core.StateSnapshot) CompleteLoad {
	categories := s.catalogue.Categories()
	out := CompleteLoad{
		Level:              snap.Level,
		CurrentExperience:  snap.CurrentExperience,
		RequiredExperience: snap.RequiredExperience,
		Points:             snap.Points,
		Categories:         make([]CategoryEntry, 0, len(categories)),
	}
	for _, c := range categories {
		entry := CategoryEntry{
			CategoryID: c.ID,
			Name:       c.Name,
			Stats:      make([]StatEntry, 0, len(c.Stats)),
		}
		for _, def := range c.Stats {
			entry.Stats = append(entry.Stats, StatEntry{
				StatID:   def.ID,
				Kind:     def.Kind.String(),
				Icon:     def.Icon,
				Factor:   def.Factor,
				Limit:    def.Limit,
				Invested: snap.Investments[def.ID],
			})
		}
		sort.Slice(entry.Stats, func(i, j int) bool { return entry.Stats[i].StatID < entry.Stats[j].StatID })
		out.Categories = append(out.Categories, entry)
	}
	return out
}
