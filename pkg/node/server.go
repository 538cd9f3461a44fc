// Package node is a backend node: it answers registration and pushes availability broadcasts on
// the management endpoint, and dispatches requests received on the data endpoint.
package node

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/codec"
	"github.com/atlassian/hasocket/pkg/healthcheck"
)

const writeTimeout = 10 * time.Second

// session is a management websocket.  Writes are serialized, as required by gorilla/websocket.
type session struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *session) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteMessage(messageType, data)
}

// Server serves the websocket endpoints of a node.
type Server struct {
	logger     logrus.FieldLogger
	source     hasocket.MembershipSource
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	data     map[*websocket.Conn]struct{}
}

// NewServer creates a Server answering registration with the identity reported by source.
func NewServer(logger logrus.FieldLogger, source hasocket.MembershipSource, dispatcher *Dispatcher) *Server {
	return &Server{
		logger:     logger,
		source:     source,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: map[*session]struct{}{},
		data:     map[*websocket.Conn]struct{}{},
	}
}

// Run forwards membership changes to every management session until the context is done, then
// closes every websocket.
func (s *Server) Run(ctx context.Context) {
	s.source.Subscribe(s)
	defer s.source.Unsubscribe(s)
	<-ctx.Done()
	if err := s.closeAll(); err != nil {
		s.logger.WithError(err).Warn("failed to close websockets")
	}
}

// OnMemberAvailable implements hasocket.MemberSubscriber.
func (s *Server) OnMemberAvailable(id string, role hasocket.Role) {
	s.broadcast(hasocket.AvailableBroadcast(id, role))
}

// OnMemberUnavailable implements hasocket.MemberSubscriber.
func (s *Server) OnMemberUnavailable(id string) {
	s.broadcast(hasocket.UnavailableBroadcast(id))
}

func (s *Server) broadcast(b hasocket.Broadcast) {
	data, err := codec.Text.Marshal(b)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode broadcast")
		return
	}
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.write(websocket.TextMessage, data); err != nil {
			s.logger.WithError(err).Debug("failed to send broadcast")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"available":   b.Available,
		"unavailable": b.Unavailable,
		"role":        b.Role,
		"sessions":    len(sessions),
	}).Info("broadcast membership change")
}

// Sessions returns the number of open management and data websockets.
func (s *Server) Sessions() (management, data int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), len(s.data)
}

// ManagementHandler serves the management endpoint.
func (s *Server) ManagementHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("management upgrade failed")
		return
	}
	sess := &session{ws: ws}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if string(data) != hasocket.RegisterCommand {
			s.logger.WithField("command", string(data)).Debug("ignoring unknown management command")
			continue
		}
		id, role := s.source.Self()
		reply, err := codec.Text.Marshal(hasocket.Registration{ID: id, IsMaster: role == hasocket.RoleMaster})
		if err != nil {
			s.logger.WithError(err).Error("failed to encode registration")
			return
		}
		if err := sess.write(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// DataHandler serves the data endpoint.  Each request is answered in the frame type it arrived in.
func (s *Server) DataHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("data upgrade failed")
		return
	}
	s.mu.Lock()
	s.data[ws] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.data, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		c := codec.New(messageType == websocket.BinaryMessage)
		var req hasocket.Request
		var result *hasocket.Result
		if err := c.Unmarshal(data, &req); err != nil {
			result = hasocket.NewErrorResult(hasocket.NewError(hasocket.ErrorTypeException, err.Error()))
		} else {
			result = s.dispatcher.Dispatch(r.Context(), req)
		}
		reply, err := c.Marshal(result)
		if err != nil {
			s.logger.WithError(err).Error("failed to encode result")
			reply, _ = c.Marshal(hasocket.NewErrorResult(hasocket.NewError(hasocket.ErrorTypeMessageToJSONFailure, err.Error())))
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(messageType, reply); err != nil {
			return
		}
	}
}

func (s *Server) closeAll() error {
	s.mu.Lock()
	var conns []*websocket.Conn
	for sess := range s.sessions {
		conns = append(conns, sess.ws)
	}
	for ws := range s.data {
		conns = append(conns, ws)
	}
	s.mu.Unlock()

	var err error
	for _, ws := range conns {
		err = multierr.Append(err, ws.Close())
	}
	return err
}

// HealthChecks reports the identity of the node, implementing healthcheck.HealthCheckProvider.
func (s *Server) HealthChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) {
			id, role := s.source.Self()
			if id == "" || !role.Valid() {
				return "node has no identity", healthcheck.Unhealthy
			}
			return "node " + id + " is " + string(role), healthcheck.Healthy
		},
	}
}
