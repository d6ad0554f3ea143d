package filesrv

import (
	"fmt"
	"sort"
	"sync"

	"github.com/any-hub/any-cache/internal/metrics"
	"github.com/any-hub/any-cache/internal/protocol"
)

const (
	stateShared    = "shared"
	stateExclusive = "exclusive"
)

type lockState struct {
	shared    int
	exclusive bool
}

// lockTable 保存每个路径的会话锁；等待者在同一个条件变量上阻塞，状态变化时全部唤醒。
// 不保证公平，也没有超时。
type lockTable struct {
	mu    sync.Mutex
	cond  *sync.Cond
	locks map[string]*lockState
}

func newLockTable() *lockTable {
	t := &lockTable{locks: make(map[string]*lockState)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *lockTable) acquireShared(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		st := t.locks[path]
		if st == nil {
			t.locks[path] = &lockState{shared: 1}
			metrics.AddServerSessions(stateShared, 1)
			return
		}
		if !st.exclusive {
			if st.shared == 0 {
				metrics.AddServerSessions(stateShared, 1)
			}
			st.shared++
			return
		}
		t.cond.Wait()
	}
}

func (t *lockTable) acquireExclusive(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		st := t.locks[path]
		if st == nil {
			t.locks[path] = &lockState{exclusive: true}
			metrics.AddServerSessions(stateExclusive, 1)
			return
		}
		t.cond.Wait()
	}
}

func (t *lockTable) releaseShared(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.locks[path]
	if st == nil || st.exclusive || st.shared == 0 {
		return fmt.Errorf("no read session on %s: %w", path, protocol.ErrBadHandle)
	}
	st.shared--
	if st.shared == 0 {
		delete(t.locks, path)
		metrics.AddServerSessions(stateShared, -1)
		t.cond.Broadcast()
	}
	return nil
}

func (t *lockTable) releaseExclusive(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.locks[path]
	if st == nil || !st.exclusive {
		return fmt.Errorf("no write session on %s: %w", path, protocol.ErrBadHandle)
	}
	delete(t.locks, path)
	metrics.AddServerSessions(stateExclusive, -1)
	t.cond.Broadcast()
	return nil
}

// SessionState 是单个路径的锁状态快照。
type SessionState struct {
	Path    string `json:"path"`
	State   string `json:"state"`
	Readers int    `json:"readers,omitempty"`
}

func (t *lockTable) snapshot() []SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SessionState, 0, len(t.locks))
	for path, st := range t.locks {
		state := SessionState{Path: path, State: stateShared, Readers: st.shared}
		if st.exclusive {
			state.State = stateExclusive
			state.Readers = 0
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
