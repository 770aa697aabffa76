package octree

import (
	"strings"

	"github.com/pkg/errors"
)

// MaxLevel is the deepest level a NodeID can address; three bits per level must fit in Index.
const MaxLevel = 21

// NodeID addresses one node of the octree. Index holds the octant path from the root, three bits per
// level, with the root's child in the most significant position.
type NodeID struct {
	Level uint8
	Index uint64
}

// RootID is the identifier of the root node.
var RootID = NodeID{}

// Valid reports whether the id's level is addressable and its index fits the level.
func (id NodeID) Valid() bool {
	if id.Level > MaxLevel {
		return false
	}
	return id.Index>>(3*uint(id.Level)) == 0
}

// Child returns the id of the given octant (0-7) below id.
func (id NodeID) Child(octant int) NodeID {
	return NodeID{Level: id.Level + 1, Index: id.Index<<3 | uint64(octant&7)}
}

// Parent returns the id of the node containing id. The root is its own parent.
func (id NodeID) Parent() NodeID {
	if id.Level == 0 {
		return id
	}
	return NodeID{Level: id.Level - 1, Index: id.Index >> 3}
}

// Octant returns which octant of its parent id occupies.
func (id NodeID) Octant() int {
	return int(id.Index & 7)
}

// String renders the id as "r" followed by one octant digit per level, e.g. "r073".
func (id NodeID) String() string {
	var sb strings.Builder
	sb.Grow(int(id.Level) + 1)
	sb.WriteByte('r')
	for l := int(id.Level) - 1; l >= 0; l-- {
		sb.WriteByte(byte('0' + (id.Index>>(3*uint(l)))&7))
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeID parses the form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	if !strings.HasPrefix(s, "r") {
		return NodeID{}, errors.Errorf("node id %q must start with 'r'", s)
	}
	path := s[1:]
	if len(path) > MaxLevel {
		return NodeID{}, errors.Errorf("node id %q is deeper than level %d", s, MaxLevel)
	}
	id := RootID
	for _, c := range path {
		if c < '0' || c > '7' {
			return NodeID{}, errors.Errorf("node id %q has invalid octant %q", s, c)
		}
		id = id.Child(int(c - '0'))
	}
	return id, nil
}
