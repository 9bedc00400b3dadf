package pending

import "sync"

// Registry 是以序号索引的待定句柄登记表。并发安全。
//
// 引擎侧只保存序号；句柄本身由调用方持有，解析后即从表中移除。
type Registry[T any] struct {
	mu   sync.Mutex
	next uint64
	m    map[uint64]*Handle[T]
}

// NewRegistry 创建登记表。
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{m: make(map[uint64]*Handle[T])}
}

// Register 登记一个新句柄并返回其序号。序号从 1 开始单调递增。
func (r *Registry[T]) Register() (uint64, *Handle[T]) {
	h := New[T]()
	r.mu.Lock()
	r.next++
	seq := r.next
	r.m[seq] = h
	r.mu.Unlock()
	return seq, h
}

// Lookup 按序号查找未解析的句柄。
func (r *Registry[T]) Lookup(seq uint64) (*Handle[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.m[seq]
	return h, ok
}

// MarkInFlight 将序号对应的句柄标记为已发出。
func (r *Registry[T]) MarkInFlight(seq uint64) bool {
	h, ok := r.Lookup(seq)
	if !ok {
		return false
	}
	return h.MarkInFlight()
}

// Resolve 解析序号对应的句柄并从表中移除。
// 序号不存在（已解析或从未登记）时返回 false。
func (r *Registry[T]) Resolve(seq uint64, v T, err error) bool {
	r.mu.Lock()
	h, ok := r.m[seq]
	if ok {
		delete(r.m, seq)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return h.Resolve(v, err)
}

// Len 返回尚未解析的句柄数。
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Abandon 以 fn 生成的结果解析所有剩余句柄，返回解析数量。
func (r *Registry[T]) Abandon(fn func(seq uint64) (T, error)) int {
	r.mu.Lock()
	remaining := r.m
	r.m = make(map[uint64]*Handle[T])
	r.mu.Unlock()

	n := 0
	for seq, h := range remaining {
		v, err := fn(seq)
		if h.Resolve(v, err) {
			n++
		}
	}
	return n
}
