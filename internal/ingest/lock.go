package ingest

import "sync/atomic"

// ImportLock is a non-blocking lock that keeps one import running per process.
type ImportLock struct {
	state atomic.Int32 // 0 = idle, 1 = importing
}

// TryAcquire takes the lock if it is free and reports whether it did.
func (l *ImportLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *ImportLock) Release() {
	l.state.Store(0)
}

// Held reports whether an import is running
func (l *ImportLock) Held() bool {
	return l.state.Load() == 1
}
