package vulkan

// table maps core handles to native objects. Callers hold the device lock.
type table[H ~uint64, V any] struct {
	m map[H]V
}

func newTable[H ~uint64, V any]() table[H, V] {
	return table[H, V]{m: make(map[H]V)}
}

func (t table[H, V]) put(h H, v V) H {
	t.m[h] = v
	return h
}

func (t table[H, V]) get(h H) (V, bool) {
	v, ok := t.m[h]
	return v, ok
}

// take removes and returns the object behind h.
func (t table[H, V]) take(h H) (V, bool) {
	v, ok := t.m[h]
	delete(t.m, h)
	return v, ok
}

func (t table[H, V]) len() int { return len(t.m) }
