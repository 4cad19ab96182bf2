// Package scene provides the mutable transform handles the tracker drives:
// the ground indicator and the placement target are nodes in a per-session
// scene whose committed transforms fan out to subscribers.
package scene

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// Role identifies what a node is used for within a session.
type Role string

// Node roles
const (
	RoleIndicator Role = "indicator"
	RoleTarget    Role = "target"
)

// Transform is an immutable position/rotation snapshot of a node.
type Transform struct {
	Position mgl64.Vec3 `json:"position"`
	Rotation mgl64.Quat `json:"rotation"`
}

// ChangeFunc is invoked after a node transform field was mutated.
type ChangeFunc func(node *Node)

// Node is an opaque mutable transform handle. It satisfies the tracker's
// TransformHandle collaborator interface.
type Node struct {
	id       string
	role     Role
	onChange ChangeFunc

	mu       sync.RWMutex
	position mgl64.Vec3
	rotation mgl64.Quat
}

// NewNode creates a node with an identity transform. onChange may be nil.
func NewNode(id string, role Role, onChange ChangeFunc) *Node {
	return &Node{
		id:       id,
		role:     role,
		onChange: onChange,
		rotation: mgl64.QuatIdent(),
	}
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Role returns the node role.
func (n *Node) Role() Role {
	return n.role
}

// SetPosition updates the node position.
func (n *Node) SetPosition(v mgl64.Vec3) {
	n.mu.Lock()
	n.position = v
	n.mu.Unlock()

	if n.onChange != nil {
		n.onChange(n)
	}
}

// SetRotation updates the node rotation.
func (n *Node) SetRotation(q mgl64.Quat) {
	n.mu.Lock()
	n.rotation = q
	n.mu.Unlock()

	if n.onChange != nil {
		n.onChange(n)
	}
}

// Snapshot returns a copy of the current transform.
func (n *Node) Snapshot() Transform {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Transform{Position: n.position, Rotation: n.rotation}
}
