package cache

import (
	"fmt"
	"os"
	"sync"
)

// slotLock 是按本地名引用计数的互斥锁，最后一个持有者释放后从表中移除。
type slotLock struct {
	mu   sync.Mutex
	refs int
}

// LockSlot 独占本地名对应的槽位，阻塞直到其他持有者释放；
// 槽位文件不存在时创建空文件。返回的函数用于解锁，只能调用一次。
func (m *Manager) LockSlot(name string) (func(), error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	m.slotMu.Lock()
	lock := m.slots[name]
	if lock == nil {
		lock = &slotLock{}
		m.slots[name] = lock
	}
	lock.refs++
	m.slotMu.Unlock()

	lock.mu.Lock()
	var once sync.Once
	unlock := func() {
		once.Do(func() {
			lock.mu.Unlock()
			m.slotMu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(m.slots, name)
			}
			m.slotMu.Unlock()
		})
	}

	file, err := os.OpenFile(m.Path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("create slot %s: %w", name, err)
	}
	_ = file.Close()
	return unlock, nil
}
