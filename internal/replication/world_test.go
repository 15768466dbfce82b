package replication

import (
	"testing"

	"github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/protocol"
)

type sent struct {
	peer     network.PeerID
	pkt      protocol.Packet
	reliable bool
}

type recordingSender struct {
	msgs []sent
}

func (r *recordingSender) Send(peer network.PeerID, data []byte, reliable bool) error {
	pkt, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	r.msgs = append(r.msgs, sent{peer, pkt, reliable})
	return nil
}

func (r *recordingSender) to(peer network.PeerID) []protocol.Packet {
	var out []protocol.Packet
	for _, m := range r.msgs {
		if m.peer == peer {
			out = append(out, m.pkt)
		}
	}
	return out
}

func TestSpawnAssignsMonotonicIDs(t *testing.T) {
	w := NewWorld()
	a := w.Spawn(Object{Kind: KindBrawler})
	b := w.Spawn(Object{Kind: KindCollectible})
	if a.ID != 0 || b.ID != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", a.ID, b.ID)
	}

	w.Destroy(a.ID)
	c := w.Spawn(Object{Kind: KindBrawler})
	if c.ID != 2 {
		t.Fatalf("id after destroy = %d, want 2 (ids are never reused)", c.ID)
	}
}

func TestChangelistRecordsEachLifecycleEventOnce(t *testing.T) {
	w := NewWorld()
	o := w.Spawn(Object{Kind: KindBrawler, Name: "a"})

	changes := w.DrainChanges()
	if len(changes) != 1 || changes[0].Type != ChangeCreate || changes[0].ID != o.ID {
		t.Fatalf("changes = %+v", changes)
	}
	if again := w.DrainChanges(); len(again) != 0 {
		t.Fatalf("second drain = %+v, want empty", again)
	}

	if !w.Destroy(o.ID) {
		t.Fatal("expected destroy to succeed")
	}
	if w.Destroy(o.ID) {
		t.Fatal("double destroy should report false")
	}
	changes = w.DrainChanges()
	if len(changes) != 1 || changes[0].Type != ChangeDelete {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestCreateBurstSkipsPending(t *testing.T) {
	w := NewWorld()
	w.Spawn(Object{Kind: KindBrawler})
	w.DrainChanges()
	w.Spawn(Object{Kind: KindCollectible, Collectible: protocol.CollectibleCarrot})

	burst := w.CreateBurst()
	if len(burst) != 1 {
		t.Fatalf("burst = %d entries, want 1", len(burst))
	}
	if _, ok := burst[0].(protocol.CreateBrawler); !ok {
		t.Fatalf("burst[0] = %T", burst[0])
	}
}

func TestJoinerSeesEachObjectOnce(t *testing.T) {
	w := NewWorld()
	rec := &recordingSender{}
	b := NewBroadcaster(rec)

	w.Spawn(Object{Kind: KindBrawler, OwnerSlot: 0})
	b.Flush(w, []network.PeerID{1})

	// Peer 2 joins while a new collectible is pending.
	w.Spawn(Object{Kind: KindCollectible})
	b.SendBurst(w, 2)
	b.Flush(w, []network.PeerID{1, 2})

	creates := map[uint32]int{}
	for _, p := range rec.to(2) {
		switch v := p.(type) {
		case protocol.CreateBrawler:
			creates[v.BrawlerID]++
		case protocol.CreateCollectible:
			creates[v.ID]++
		}
	}
	if creates[0] != 1 || creates[1] != 1 {
		t.Fatalf("creates seen by joiner = %v, want one each", creates)
	}
}

func TestSnapshotIncludesOnlyDynamic(t *testing.T) {
	w := NewWorld()
	w.Spawn(Object{Kind: KindCollectible})
	br := w.Spawn(Object{Kind: KindBrawler, Position: protocol.Vec2{X: 1, Y: 2}})
	g := w.Spawn(Object{Kind: KindGolden})

	s := w.Snapshot()
	if len(s.States) != 2 {
		t.Fatalf("states = %d, want 2", len(s.States))
	}
	if s.States[0].ID != br.ID || s.States[1].ID != g.ID {
		t.Fatalf("order = %+v", s.States)
	}
	if s.States[0].Position != br.Position {
		t.Fatalf("position = %+v", s.States[0].Position)
	}
}

func TestBroadcasterReliability(t *testing.T) {
	w := NewWorld()
	rec := &recordingSender{}
	b := NewBroadcaster(rec)

	o := w.Spawn(Object{Kind: KindBrawler})
	w.Destroy(o.ID)
	b.Flush(w, []network.PeerID{1})
	b.BroadcastSnapshot(w, []network.PeerID{1})

	if len(rec.msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(rec.msgs))
	}
	if !rec.msgs[0].reliable || !rec.msgs[1].reliable {
		t.Fatal("create and delete must be reliable")
	}
	if _, ok := rec.msgs[1].pkt.(protocol.DeleteEntity); !ok {
		t.Fatalf("second message = %T", rec.msgs[1].pkt)
	}
	if rec.msgs[2].reliable {
		t.Fatal("snapshot must be unreliable")
	}
	if st := b.Stats(); st.Creates != 1 || st.Deletes != 1 || st.Snapshots != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestCreateMessageGoldenType(t *testing.T) {
	o := &Object{ID: 4, Kind: KindGolden}
	msg, ok := CreateMessage(o).(protocol.CreateCollectible)
	if !ok || msg.Type != protocol.CollectibleGolden {
		t.Fatalf("CreateMessage = %+v", msg)
	}
}
