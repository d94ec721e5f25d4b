package emission

import "sync"

// keyedMutex serializes work per key.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) Lock(key string) func() {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
