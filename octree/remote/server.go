package remote

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/octree"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 5 * time.Minute
	// Requests are small JSON objects.
	maxRequestBytes = 4 * 1024
)

// Server exposes a DataSource to remote clients. If the source is also an octree.Lister, clients
// may list its nodes.
type Server struct {
	source   octree.DataSource
	logger   logging.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server for source.
func NewServer(source octree.DataSource, logger logging.Logger) *Server {
	return &Server{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and answers requests one at a time until the client leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxRequestBytes)
	connID := uuid.NewString()
	s.logger.Debugw("client connected", "conn", connID, "addr", r.RemoteAddr)

	ctx := r.Context()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("client read failed", "conn", connID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			if err := s.writeError(conn, errors.New("requests must be text frames")); err != nil {
				return
			}
			continue
		}

		var req request
		if err := json.Unmarshal(msg, &req); err != nil {
			if err := s.writeError(conn, errors.Wrap(err, "malformed request")); err != nil {
				return
			}
			continue
		}

		switch req.Op {
		case opFetch:
			if req.ID == nil {
				err = s.writeError(conn, errors.New("fetch requires an id"))
				break
			}
			var d octree.NodeData
			d, err = s.source.Fetch(ctx, *req.ID)
			if err != nil {
				s.logger.Debugw("fetch failed", "conn", connID, "node", *req.ID, "error", err)
				err = s.writeError(conn, err)
				break
			}
			var payload []byte
			payload, err = octree.MarshalNodeData(d)
			if err != nil {
				err = s.writeError(conn, err)
				break
			}
			err = s.write(conn, websocket.BinaryMessage, payload)
		case opList:
			lister, ok := s.source.(octree.Lister)
			if !ok {
				err = s.writeError(conn, errors.New("source cannot list nodes"))
				break
			}
			var ids []octree.NodeID
			ids, err = lister.NodeIDs(ctx)
			if err != nil {
				err = s.writeError(conn, err)
				break
			}
			err = s.writeJSON(conn, response{IDs: ids})
		default:
			err = s.writeError(conn, errors.Errorf("unknown op %q", req.Op))
		}
		if err != nil {
			s.logger.Debugw("client write failed", "conn", connID, "error", err)
			return
		}
	}
}

func (s *Server) writeError(conn *websocket.Conn, err error) error {
	return s.writeJSON(conn, response{Error: err.Error(), NotFound: errors.Is(err, octree.ErrNodeNotFound)})
}

func (s *Server) writeJSON(conn *websocket.Conn, resp response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.write(conn, websocket.TextMessage, data)
}

func (s *Server) write(conn *websocket.Conn, msgType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(msgType, data)
}
