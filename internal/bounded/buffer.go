package bounded

// Buffer is a fixed-capacity append-only collection. Once full, every append
// drops the oldest entry so that survivors keep their relative order.
type Buffer[T any] struct {
	items []T
	max   int
}

func NewBuffer[T any](max int) *Buffer[T] {
	if max <= 0 {
		max = 1
	}
	return &Buffer[T]{max: max}
}

func (b *Buffer[T]) Append(item T) {
	if b == nil {
		return
	}
	b.items = append(b.items, item)
	b.trim()
}

func (b *Buffer[T]) trim() {
	if len(b.items) <= b.max {
		return
	}
	drop := len(b.items) - b.max
	b.items = append(b.items[:0], b.items[drop:]...)
}

func (b *Buffer[T]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

func (b *Buffer[T]) Cap() int {
	if b == nil {
		return 0
	}
	return b.max
}

// Items returns a copy; callers may not mutate buffer state through it.
func (b *Buffer[T]) Items() []T {
	if b == nil || len(b.items) == 0 {
		return nil
	}
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer[T]) Last() (T, bool) {
	var zero T
	if b == nil || len(b.items) == 0 {
		return zero, false
	}
	return b.items[len(b.items)-1], true
}

func (b *Buffer[T]) Clear() {
	if b == nil {
		return
	}
	b.items = b.items[:0]
}
