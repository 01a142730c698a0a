package retention

import "sync/atomic"

// Flag records whether automatic cleanup already ran in this process.
// One Flag is shared by everything that may trigger an automatic cleanup.
type Flag struct {
	ran atomic.Bool
}

// TrySet sets the flag and reports whether this call was the one that set it.
func (f *Flag) TrySet() bool {
	return f.ran.CompareAndSwap(false, true)
}

// Ran reports whether the flag is set.
func (f *Flag) Ran() bool {
	return f.ran.Load()
}

// Reset clears the flag.
func (f *Flag) Reset() {
	f.ran.Store(false)
}
