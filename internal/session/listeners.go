package session

import (
	"sync"

	"github.com/hitoshi/fitjourney/internal/model"
)

// Event はセッション状態の変化の種類。
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener はセッション変化の通知を受け取る関数。
// SIGNED_OUTではsessionはnil。
type Listener func(event Event, session *model.Session)

// listenerHub はリスナーの登録・解除・通知を管理する。
// 通知は登録済みリスナーのスナップショットに対して行うため、
// リスナー内から解除・登録しても安全。
type listenerHub struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
	order     []uint64
}

func newListenerHub() *listenerHub {
	return &listenerHub{listeners: make(map[uint64]Listener)}
}

// add はリスナーを登録し、解除関数を返す。解除関数は何度呼んでもよい。
func (h *listenerHub) add(l Listener) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// notify は登録順にリスナーを呼び出す。
func (h *listenerHub) notify(event Event, s *model.Session) {
	h.mu.Lock()
	snapshot := make([]Listener, 0, len(h.order))
	for _, id := range h.order {
		snapshot = append(snapshot, h.listeners[id])
	}
	h.mu.Unlock()

	for _, l := range snapshot {
		l(event, s)
	}
}

func (h *listenerHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
