// Package replication owns the server's replicated objects: identity
// assignment, the per-tick changelist of creates and deletes, and the
// broadcaster that turns them into messages.
package replication

import (
	"encoding/json"
	"sort"

	"github.com/networkbrawler/brawler/internal/protocol"
)

// Kind is the class of a replicated object.
type Kind uint8

const (
	KindBrawler Kind = iota
	KindCollectible
	KindGolden
)

var kindNames = map[Kind]string{
	KindBrawler:     "brawler",
	KindCollectible: "collectible",
	KindGolden:      "golden",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON implements json.Marshaler.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// NoOwner marks an object without an owning player slot.
const NoOwner = -1

// Object is a replicated entity.
type Object struct {
	ID          uint32                   `json:"id"`
	Kind        Kind                     `json:"kind"`
	Position    protocol.Vec2            `json:"position"`
	Velocity    protocol.Vec2            `json:"velocity"`
	Scale       float32                  `json:"scale"`
	Collectible protocol.CollectibleType `json:"collectible,omitempty"`
	OwnerSlot   int                      `json:"owner_slot"`
	Name        string                   `json:"name,omitempty"`
}

// Dynamic reports whether the object appears in snapshots.
func (o *Object) Dynamic() bool {
	return o.Kind == KindBrawler || o.Kind == KindGolden
}

// ChangeType distinguishes changelist records.
type ChangeType uint8

const (
	ChangeCreate ChangeType = iota + 1
	ChangeDelete
)

// Change is one lifecycle record. Create carries a copy of the object as
// it was at spawn; Delete carries only the id.
type Change struct {
	Type   ChangeType
	ID     uint32
	Object Object
}

// World holds every live replicated object. It is not safe for concurrent
// use; the server loop owns it.
type World struct {
	nextID  uint32
	objects map[uint32]*Object
	changes []Change
	// pending holds ids whose create has not been drained yet.
	pending map[uint32]struct{}
}

// NewWorld creates an empty world whose first id is 0.
func NewWorld() *World {
	return &World{
		objects: make(map[uint32]*Object),
		pending: make(map[uint32]struct{}),
	}
}

// Spawn assigns the next id to obj, registers it and records a create.
func (w *World) Spawn(obj Object) *Object {
	obj.ID = w.nextID
	w.nextID++

	o := &obj
	w.objects[o.ID] = o
	w.pending[o.ID] = struct{}{}
	w.changes = append(w.changes, Change{Type: ChangeCreate, ID: o.ID, Object: obj})
	return o
}

// Destroy removes the object and records a delete. It reports false and
// records nothing if id is not live.
func (w *World) Destroy(id uint32) bool {
	if _, ok := w.objects[id]; !ok {
		return false
	}
	delete(w.objects, id)
	delete(w.pending, id)
	w.changes = append(w.changes, Change{Type: ChangeDelete, ID: id})
	return true
}

// Get returns the live object with id.
func (w *World) Get(id uint32) (*Object, bool) {
	o, ok := w.objects[id]
	return o, ok
}

// Len returns the number of live objects.
func (w *World) Len() int { return len(w.objects) }

// NextID returns the id the next Spawn will assign.
func (w *World) NextID() uint32 { return w.nextID }

// Live returns every live object ordered by id.
func (w *World) Live() []*Object {
	out := make([]*Object, 0, len(w.objects))
	for _, o := range w.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live objects of kind k.
func (w *World) Count(k Kind) int {
	n := 0
	for _, o := range w.objects {
		if o.Kind == k {
			n++
		}
	}
	return n
}

// DrainChanges returns the accumulated changes in order and clears them.
func (w *World) DrainChanges() []Change {
	out := w.changes
	w.changes = nil
	clear(w.pending)
	return out
}

// CreateBurst returns create messages for every live object whose create
// has already been drained. Pending creates are left to the next flush so
// a joining peer sees each object exactly once.
func (w *World) CreateBurst() []protocol.Packet {
	var out []protocol.Packet
	for _, o := range w.Live() {
		if _, pending := w.pending[o.ID]; pending {
			continue
		}
		out = append(out, CreateMessage(o))
	}
	return out
}

// CreateMessage builds the create message for o's kind.
func CreateMessage(o *Object) protocol.Packet {
	if o.Kind == KindBrawler {
		playerID := uint32(0)
		if o.OwnerSlot >= 0 {
			playerID = uint32(o.OwnerSlot)
		}
		return protocol.CreateBrawler{
			PlayerID:  playerID,
			BrawlerID: o.ID,
			Position:  o.Position,
			Velocity:  o.Velocity,
			Scale:     o.Scale,
			Name:      o.Name,
		}
	}
	typ := o.Collectible
	if o.Kind == KindGolden {
		typ = protocol.CollectibleGolden
	}
	return protocol.CreateCollectible{
		ID:       o.ID,
		Position: o.Position,
		Scale:    o.Scale,
		Type:     typ,
	}
}

// Snapshot builds the state message for every dynamic object, ordered by id.
func (w *World) Snapshot() protocol.EntityStates {
	var s protocol.EntityStates
	for _, o := range w.Live() {
		if !o.Dynamic() {
			continue
		}
		s.States = append(s.States, protocol.EntityState{
			ID:       o.ID,
			Position: o.Position,
			Velocity: o.Velocity,
		})
	}
	return s
}
