package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"roomleader/internal/broadcast"
	"roomleader/internal/election"
	"roomleader/internal/metrics"
	"roomleader/internal/wshub"
)

// Inbound command types.
const (
	CmdStartVolunteerPhase = "start-volunteer-phase"
	CmdVolunteer           = "volunteer"
	CmdPass                = "pass"
	CmdSelectGame          = "select-game"
	CmdStartTimingRound    = "start-timing-round"
	CmdSubmitTimingResult  = "submit-timing-result"
	CmdLeave               = "leave"
	CmdConfirmResult       = "confirm-result"
	CmdReload              = "reload"
)

const leaveTimeout = 5 * time.Second

// errClientLeft ends the read loop after an explicit leave.
var errClientLeft = errors.New("client left")

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	Elections      *election.Controller
	Hub            *wshub.Hub
	Publisher      election.Publisher
	Auth           *Authenticator
	Metrics        *metrics.Metrics
	Checks         []HealthCheck
	OriginPatterns []string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("module", "server").Msg("encoding response")
	}
}

func statusFor(kind election.Kind) int {
	switch kind {
	case election.KindAuthorization:
		return http.StatusForbidden
	case election.KindState:
		return http.StatusConflict
	case election.KindNotFound:
		return http.StatusNotFound
	case election.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := election.KindOf(err)
	if kind == election.KindInternal {
		log.Error().Err(err).Str("module", "server").Msg("request failed")
	}
	writeJSON(w, statusFor(kind), election.ErrorPayload{Kind: kind, Message: election.PublicMessage(err)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range s.Checks {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleElectionState serves the same view a websocket reload returns.
func (s *Server) handleElectionState(w http.ResponseWriter, r *http.Request) {
	userID, err := s.Auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	view, err := s.Elections.Reload(r.Context(), mux.Vars(r)["roomId"], userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.Auth.UserID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID := mux.Vars(r)["roomId"]

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.OriginPatterns})
	if err != nil {
		log.Warn().Err(err).Str("module", "server").Msg("websocket accept")
		return
	}
	defer conn.Close(websocket.StatusGoingAway, "server closing websocket")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := wshub.NewClient(conn, roomID, userID)
	if err := s.Hub.Register(ctx, client); err != nil {
		log.Error().Err(err).Str("module", "server").Str("room", roomID).Msg("registering client")
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer s.Hub.Unregister(client.ID)
	go client.WritePump(ctx)

	view, err := s.Elections.Connect(ctx, roomID, userID)
	if err != nil {
		payload := election.ErrorPayload{Kind: election.KindOf(err), Message: election.PublicMessage(err)}
		if data, mErr := json.Marshal(broadcast.Message{Type: broadcast.TypeError, Payload: payload}); mErr == nil {
			conn.Write(ctx, websocket.MessageText, data)
		}
		conn.Close(websocket.StatusPolicyViolation, payload.Message)
		return
	}
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer leaveCancel()
		s.Elections.Leave(leaveCtx, roomID, userID)
	}()
	client.Deliver(broadcast.Message{Type: broadcast.TypeState, Payload: view})

	log.Info().Str("module", "server").Str("room", roomID).Str("user", userID).Msg("client connected")
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Debug().Err(err).Str("module", "server").Str("room", roomID).Str("user", userID).Msg("read loop ended")
			}
			return
		}
		if typ != websocket.MessageText {
			s.reportError(ctx, client, "", election.ErrInvalidCommand)
			continue
		}
		var msg wshub.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reportError(ctx, client, "", fmt.Errorf("%w: %v", election.ErrInvalidCommand, err))
			continue
		}
		err = s.dispatch(ctx, client, msg)
		if errors.Is(err, errClientLeft) {
			conn.Close(websocket.StatusNormalClosure, "left")
			return
		}
		if err != nil {
			s.reportError(ctx, client, msg.Type, err)
		}
	}
}

func decodePayload(msg wshub.ClientMessage, v any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s needs a payload", election.ErrInvalidCommand, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", election.ErrInvalidCommand, err)
	}
	return nil
}

// dispatch maps one inbound command onto the controller.
func (s *Server) dispatch(ctx context.Context, c *wshub.Client, msg wshub.ClientMessage) error {
	roomID, userID := c.RoomID, c.UserID
	switch msg.Type {
	case CmdStartVolunteerPhase:
		return s.Elections.StartVolunteerPhase(ctx, roomID, userID)
	case CmdVolunteer:
		return s.Elections.Volunteer(ctx, roomID, userID)
	case CmdPass:
		return s.Elections.Pass(ctx, roomID, userID)
	case CmdSelectGame:
		var p struct {
			GameType string `json:"gameType"`
		}
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		return s.Elections.SelectGame(ctx, roomID, userID, p.GameType)
	case CmdStartTimingRound:
		return s.Elections.StartTimingRound(ctx, roomID, userID)
	case CmdSubmitTimingResult:
		var p struct {
			Deviation *float64 `json:"deviation"`
		}
		if err := decodePayload(msg, &p); err != nil {
			return err
		}
		if p.Deviation == nil {
			return election.ErrInvalidDeviation
		}
		return s.Elections.SubmitTimingResult(ctx, roomID, userID, *p.Deviation)
	case CmdConfirmResult:
		return s.Elections.ConfirmResult(ctx, roomID, userID)
	case CmdLeave:
		return errClientLeft
	case CmdReload:
		view, err := s.Elections.Reload(ctx, roomID, userID)
		if err != nil {
			return err
		}
		c.Deliver(broadcast.Message{Type: broadcast.TypeState, Payload: view})
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", election.ErrInvalidCommand, msg.Type)
}

// reportError sends the rejection to the caller's user topic.
func (s *Server) reportError(ctx context.Context, c *wshub.Client, command string, err error) {
	kind := election.KindOf(err)
	if s.Metrics != nil {
		s.Metrics.CommandErrors.WithLabelValues(string(kind)).Inc()
	}
	ev := log.Debug()
	if kind == election.KindInternal {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "server").Str("room", c.RoomID).Str("user", c.UserID).Str("command", command).Msg("command rejected")

	s.Publisher.ToUser(ctx, c.RoomID, c.UserID, broadcast.Message{
		Type: broadcast.TypeError,
		Payload: election.ErrorPayload{
			Kind:    kind,
			Message: election.PublicMessage(err),
			Command: command,
		},
	})
}
