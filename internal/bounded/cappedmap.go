package bounded

import "unicode/utf8"

// CappedStringMap accumulates text per key with an independent character cap
// on every value and an oldest-key-first eviction once the key count limit is
// reached. Runaway growth of a single key never spills into the others.
type CappedStringMap struct {
	limit   int
	maxKeys int
	order   []string
	values  map[string]string
}

func NewCappedStringMap(limit int, maxKeys int) *CappedStringMap {
	if limit <= 0 {
		limit = 1
	}
	if maxKeys <= 0 {
		maxKeys = 1
	}
	return &CappedStringMap{
		limit:   limit,
		maxKeys: maxKeys,
		values:  make(map[string]string),
	}
}

// Append adds fragment to the accumulated text for key, clipping at the value
// cap. It returns the accumulated text and whether any part of the fragment
// was applied; fragments arriving at a full value are dropped outright.
func (m *CappedStringMap) Append(key string, fragment string) (string, bool) {
	if m == nil {
		return "", false
	}
	cur, ok := m.values[key]
	if !ok {
		m.order = append(m.order, key)
		m.evict()
	}
	if len(cur) >= m.limit {
		m.values[key] = cur
		return cur, false
	}
	room := m.limit - len(cur)
	applied := fragment
	if len(applied) > room {
		// Clip on a rune boundary; never keep a torn multi-byte sequence.
		cut := room
		for cut > 0 && !utf8.RuneStart(applied[cut]) {
			cut--
		}
		applied = applied[:cut]
	}
	cur += applied
	m.values[key] = cur
	return cur, applied != ""
}

func (m *CappedStringMap) evict() {
	for len(m.order) > m.maxKeys {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.values, oldest)
	}
}

func (m *CappedStringMap) Get(key string) string {
	if m == nil {
		return ""
	}
	return m.values[key]
}

func (m *CappedStringMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.values)
}

// Reset drops all accumulated state; called whenever a new stream starts.
func (m *CappedStringMap) Reset() {
	if m == nil {
		return
	}
	m.order = m.order[:0]
	m.values = make(map[string]string)
}
