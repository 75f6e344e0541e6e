// Package ring implements weighted consistent hashing over a 64-bit hash
// space. Each member owns a number of virtual nodes proportional to its
// weight, which bounds the fraction of keys remapped when membership changes.
package ring

import (
	"sort"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// DefaultVirtualNodes is the number of virtual nodes per unit of weight.
// 128 keeps the key distribution within a few percent of the ideal share
// while keeping rebuild cost negligible for realistic partition counts.
const DefaultVirtualNodes = 128

// Ring maps keys onto partitions via consistent hashing.
//
// Membership changes rebuild the slot table from scratch and swap it in under
// the write lock, so a Locate call observes either the old or the new table,
// never a mix. Iteration over the member map is made deterministic by sorting
// member IDs before hashing, so two rings built from the same membership are
// identical.
type Ring struct {
	mu           sync.RWMutex
	virtualNodes int
	members      map[types.PartitionID]uint32
	slots        []uint64
	owners       map[uint64]types.PartitionID
}

// New creates an empty ring. virtualNodes <= 0 selects DefaultVirtualNodes.
func New(virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		virtualNodes: virtualNodes,
		members:      make(map[types.PartitionID]uint32),
		owners:       make(map[uint64]types.PartitionID),
	}
}

// Add inserts or updates a member with the given weight and rebuilds the slot
// table. A weight of 0 is treated as 1; use Remove to exclude a member.
func (r *Ring) Add(id types.PartitionID, weight uint32) {
	if weight == 0 {
		weight = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[id] = weight
	r.rebuildLocked()
}

// Remove deletes a member and rebuilds the slot table. Removing an absent
// member is a no-op.
func (r *Ring) Remove(id types.PartitionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return
	}
	delete(r.members, id)
	r.rebuildLocked()
}

// Locate returns the member owning the given key. The second return value is
// false when the ring is empty.
func (r *Ring) Locate(key string) (types.PartitionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.slots) == 0 {
		return "", false
	}

	h := Hash(key)
	idx := sort.Search(len(r.slots), func(i int) bool { return r.slots[i] >= h })
	if idx == len(r.slots) {
		idx = 0 // wrap around
	}
	return r.owners[r.slots[idx]], true
}

// Contains reports whether the given member is on the ring.
func (r *Ring) Contains(id types.PartitionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[id]
	return ok
}

// Members returns the member IDs in sorted order.
func (r *Ring) Members() []types.PartitionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]types.PartitionID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of members.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// rebuildLocked regenerates the slot table from the member map.
// Caller must hold r.mu.
func (r *Ring) rebuildLocked() {
	ids := make([]types.PartitionID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	slots := make([]uint64, 0, len(ids)*r.virtualNodes)
	owners := make(map[uint64]types.PartitionID, len(ids)*r.virtualNodes)

	for _, id := range ids {
		n := int(r.members[id]) * r.virtualNodes
		for i := 0; i < n; i++ {
			h := Hash(string(id) + "#" + strconv.Itoa(i))
			if _, taken := owners[h]; taken {
				// Hash collision between virtual nodes. The first owner in
				// sorted ID order keeps the slot, which is deterministic.
				continue
			}
			owners[h] = id
			slots = append(slots, h)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	r.slots = slots
	r.owners = owners
}

// Hash maps a key into the ring's 64-bit hash space.
func Hash(key string) uint64 {
	return murmur3.Sum64([]byte(key))
}
