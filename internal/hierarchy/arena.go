package hierarchy

import "github.com/agentic-research/hiercache/internal/idtable"

// arena maps ids to generation-tagged slots. Expiring an id bumps its
// slot's generation, so every proxy issued for it stops resolving even after
// the slot is reused.
type arena struct {
	slots    []slotEntry // index 0 is reserved for the zero Proxy
	idToSlot map[idtable.ID]uint32
	free     []uint32
}

type slotEntry struct {
	id   idtable.ID
	gen  uint32
	live bool
}

func newArena() *arena {
	return &arena{
		slots:    make([]slotEntry, 1),
		idToSlot: make(map[idtable.ID]uint32),
	}
}

func (a *arena) proxy(id idtable.ID) Proxy {
	if slot, ok := a.idToSlot[id]; ok {
		return Proxy{slot: slot, gen: a.slots[slot].gen}
	}
	var slot uint32
	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		slot = uint32(len(a.slots))
		a.slots = append(a.slots, slotEntry{gen: 1})
	}
	a.slots[slot].id = id
	a.slots[slot].live = true
	a.idToSlot[id] = slot
	return Proxy{slot: slot, gen: a.slots[slot].gen}
}

func (a *arena) get(p Proxy) (idtable.ID, bool) {
	if p.slot == 0 || int(p.slot) >= len(a.slots) {
		return idtable.NoID, false
	}
	e := a.slots[p.slot]
	if !e.live || e.gen != p.gen {
		return idtable.NoID, false
	}
	return e.id, true
}

func (a *arena) expire(id idtable.ID) {
	slot, ok := a.idToSlot[id]
	if !ok {
		return
	}
	delete(a.idToSlot, id)
	e := &a.slots[slot]
	e.live = false
	e.gen++
	e.id = idtable.NoID
	a.free = append(a.free, slot)
}

func (a *arena) len() int { return len(a.idToSlot) }
