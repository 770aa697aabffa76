// Package remote serves an octree.DataSource over a websocket and provides the matching client.
//
// Each request is a JSON text frame. A fetch is answered with a binary frame holding the node as
// encoded by octree.MarshalNodeData, a list with a JSON text frame of ids, and any failure with a
// JSON text frame describing the error.
package remote

import (
	"go.viam.com/octreeview/octree"
)

// Path is where the server is mounted by the serve command.
const Path = "/nodes"

const (
	opFetch = "fetch"
	opList  = "list"
)

type request struct {
	Op string         `json:"op"`
	ID *octree.NodeID `json:"id,omitempty"`
}

type response struct {
	IDs      []octree.NodeID `json:"ids,omitempty"`
	Error    string          `json:"error,omitempty"`
	NotFound bool            `json:"not_found,omitempty"`
}
