package asyncrt

import (
	"runtime"
	"sync"
)

// currentLoopRegistry implements an ambient "current event loop" binding,
// the Go equivalent of a thread-local. A native runtime would key this off
// the OS thread; Go does not expose OS thread identity for goroutines
// pinned via runtime.LockOSThread, so this keys off the goroutine id
// instead — a Loop's Run goroutine never migrates OS threads mid-poll in
// this design (poll and tick both run inline on the same goroutine), so
// goroutine-id affinity is equivalent here.
var currentLoopRegistry sync.Map // map[uint64]*Loop

func setCurrentLoop(gid uint64, l *Loop) { currentLoopRegistry.Store(gid, l) }

func clearCurrentLoop(gid uint64) { currentLoopRegistry.Delete(gid) }

// currentLoop returns the Loop bound to the calling goroutine, or nil.
func currentLoop() *Loop {
	v, ok := currentLoopRegistry.Load(getGoroutineID())
	if !ok {
		return nil
	}
	return v.(*Loop)
}

// getGoroutineID parses the numeric id out of runtime.Stack's header line —
// a common way to detect "is this goroutine the Loop's own goroutine"
// without cgo or unsafe access to the runtime's internal g struct.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
