package linked

// Hashmap is an insertion-order-preserving map: O(1) Get/Put/Delete,
// and oldest-entry access (OldestEntry) for FIFO eviction policies.
type Hashmap[K comparable, V any] struct {
	m    map[K]*entry[K, V]
	list *List[*entry[K, V]]
}

type entry[K comparable, V any] struct {
	key   K
	value V
	node  *ListNode[*entry[K, V]]
}

// NewHashmap returns an empty ordered map.
func NewHashmap[K comparable, V any]() *Hashmap[K, V] {
	return &Hashmap[K, V]{
		m:    make(map[K]*entry[K, V]),
		list: NewList[*entry[K, V]](),
	}
}

// Put inserts or updates key. Updating an existing key does not move
// it within the insertion order.
func (h *Hashmap[K, V]) Put(key K, value V) {
	if e, ok := h.m[key]; ok {
		e.value = value
		return
	}
	e := &entry[K, V]{key: key, value: value}
	e.node = h.list.PushBack(e)
	h.m[key] = e
}

// Get returns the value for key and whether it was present.
func (h *Hashmap[K, V]) Get(key K) (V, bool) {
	if e, ok := h.m[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Delete removes key, if present.
func (h *Hashmap[K, V]) Delete(key K) {
	if e, ok := h.m[key]; ok {
		h.list.Remove(e.node)
		delete(h.m, key)
	}
}

// Len reports the number of entries held.
func (h *Hashmap[K, V]) Len() int { return h.list.Len() }

// OldestEntry returns the least-recently-inserted entry still held.
func (h *Hashmap[K, V]) OldestEntry() (K, V, bool) {
	node := h.list.Front()
	if node == nil {
		var zk K
		var zv V
		return zk, zv, false
	}
	return node.Value.key, node.Value.value, true
}

// Iterator walks entries oldest-first.
type Iterator[K comparable, V any] struct {
	current *ListNode[*entry[K, V]]
	key     K
	value   V
}

// NewIterator returns an iterator positioned before the oldest entry.
func (h *Hashmap[K, V]) NewIterator() *Iterator[K, V] {
	return &Iterator[K, V]{current: h.list.Front()}
}

// Next advances the iterator; false once exhausted.
func (it *Iterator[K, V]) Next() bool {
	if it.current == nil {
		return false
	}
	it.key = it.current.Value.key
	it.value = it.current.Value.value
	it.current = it.current.Next
	return true
}

func (it *Iterator[K, V]) Key() K   { return it.key }
func (it *Iterator[K, V]) Value() V { return it.value }
