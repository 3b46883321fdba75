package atomics

import (
	"sync/atomic"
	"time"
)

// Tries to subtract value from the atomic source, saturating at 0. Success if already 0.
// Retries up to maxRetries times when the CAS loses to a concurrent writer.
func Subtract(source *atomic.Uint64, value uint64, maxRetries int) (success bool) {
	retryInterval := time.Microsecond * 10

	for i := 0; i < maxRetries; i++ {
		current := source.Load()
		if current == 0 {
			success = true
			return
		}

		var newValue uint64
		if value < current {
			newValue = current - value
		}

		if source.CompareAndSwap(current, newValue) {
			success = true
			return
		}

		time.Sleep(retryInterval)
		retryInterval = retryInterval * 2
	}
	return
}

// Raises target to candidate if candidate is larger (high-water marks)
func StoreMax(target *atomic.Uint64, candidate uint64) {
	for {
		current := target.Load()
		if candidate <= current {
			return
		}
		if target.CompareAndSwap(current, candidate) {
			return
		}
	}
}
