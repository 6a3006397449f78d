package proxy

import "sync"

// paymentWaiter is a one-shot subscription for a "payment received"
// notification, owned by a single connection.
type paymentWaiter struct {
	pubkey string
	conn   *Connection
}

// WaiterTable maps a pubkey to the connections awaiting payment for it, in
// registration order. Each waiter is consumed at most once.
type WaiterTable struct {
	mu      sync.Mutex
	pending map[string][]*paymentWaiter
}

func NewWaiterTable() *WaiterTable {
	return &WaiterTable{pending: make(map[string][]*paymentWaiter)}
}

func (t *WaiterTable) add(pubkey string, c *Connection) *paymentWaiter {
	w := &paymentWaiter{pubkey: pubkey, conn: c}
	t.mu.Lock()
	t.pending[pubkey] = append(t.pending[pubkey], w)
	t.mu.Unlock()
	return w
}

// pop removes and returns the oldest waiter for pubkey, or nil.
func (t *WaiterTable) pop(pubkey string) *paymentWaiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.pending[pubkey]
	if len(list) == 0 {
		return nil
	}
	w := list[0]
	list[0] = nil
	if len(list) == 1 {
		delete(t.pending, pubkey)
	} else {
		t.pending[pubkey] = list[1:]
	}
	return w
}

// remove retires w if it is still pending. Removing a consumed waiter is a
// no-op.
func (t *WaiterTable) remove(w *paymentWaiter) {
	if w == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.pending[w.pubkey]
	for i, cand := range list {
		if cand != w {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(t.pending, w.pubkey)
		} else {
			t.pending[w.pubkey] = list
		}
		return
	}
}

func (t *WaiterTable) has(pubkey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[pubkey]) > 0
}

// Len returns the number of pending waiters across all pubkeys.
func (t *WaiterTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.pending {
		n += len(list)
	}
	return n
}
