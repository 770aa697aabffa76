package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/octree"
)

// ErrClientClosed is returned by calls on a closed Client.
var ErrClientClosed = errors.New("remote client closed")

// Client is an octree.DataSource and octree.Lister backed by a Server. Calls are serialized over a
// single connection. A call abandoned through its context breaks the connection, and every later
// call fails.
type Client struct {
	logger logging.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

// Dial connects to the server at url, e.g. ws://localhost:8080/nodes.
func Dial(ctx context.Context, url string, logger logging.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	conn.SetReadLimit(octree.MaxDecodedNodeBytes)
	logger.Debugw("connected to node server", "url", url)
	return &Client{logger: logger, conn: conn}, nil
}

// Fetch requests one node.
func (c *Client) Fetch(ctx context.Context, id octree.NodeID) (octree.NodeData, error) {
	msgType, msg, err := c.roundTrip(ctx, request{Op: opFetch, ID: &id})
	if err != nil {
		return octree.NodeData{}, err
	}
	if msgType == websocket.TextMessage {
		return octree.NodeData{}, decodeError(msg)
	}
	d, err := octree.UnmarshalNodeData(msg)
	if err != nil {
		return octree.NodeData{}, errors.Wrapf(err, "decoding node %s", id)
	}
	if d.Meta.ID != id {
		return octree.NodeData{}, errors.Wrapf(octree.ErrInvalidPayload, "asked for node %s, got %s", id, d.Meta.ID)
	}
	return d, nil
}

// NodeIDs lists the server's nodes.
func (c *Client) NodeIDs(ctx context.Context) ([]octree.NodeID, error) {
	msgType, msg, err := c.roundTrip(ctx, request{Op: opList})
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, errors.New("unexpected binary reply to list")
	}
	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, errors.Wrap(err, "decoding list reply")
	}
	if resp.Error != "" {
		return nil, decodeError(msg)
	}
	return resp.IDs, nil
}

func decodeError(msg []byte) error {
	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil {
		return errors.Wrap(err, "decoding error reply")
	}
	if resp.NotFound {
		return errors.Wrap(octree.ErrNodeNotFound, resp.Error)
	}
	return errors.New(resp.Error)
}

func (c *Client) roundTrip(ctx context.Context, req request) (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, nil, c.err
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := json.Marshal(req)
	if err != nil {
		return 0, nil, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, nil, c.fail(ctx, err)
	}
	msgType, msg, err := c.conn.ReadMessage()
	if err != nil {
		return 0, nil, c.fail(ctx, err)
	}
	return msgType, msg, nil
}

// fail records a connection failure. Callers hold mu.
func (c *Client) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	c.err = errors.Wrap(err, "remote connection broken")
	c.logger.Warnw("remote node connection failed", "error", err)
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(c.err, ErrClientClosed) {
		return nil
	}
	c.err = ErrClientClosed
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
