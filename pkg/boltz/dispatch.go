package boltz

import (
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// serialDispatcher runs tasks asynchronously, one at a time per key and in
// submission order. Tasks for different keys run concurrently.
type serialDispatcher struct {
	queues *xsync.MapOf[string, []func()]
}

func newSerialDispatcher() *serialDispatcher {
	return &serialDispatcher{queues: xsync.NewMapOf[string, []func()]()}
}

func (d *serialDispatcher) submit(key string, task func()) {
	start := false
	d.queues.Compute(key, func(queue []func(), loaded bool) ([]func(), bool) {
		start = !loaded
		return append(queue, task), false
	})

	if start {
		go d.drain(key)
	}
}

// drain owns the queue of key until it is empty. The key stays in the map
// while a drain goroutine is alive.
func (d *serialDispatcher) drain(key string) {
	for {
		var task func()
		d.queues.Compute(key, func(queue []func(), _ bool) ([]func(), bool) {
			if len(queue) == 0 {
				return nil, true
			}
			task = queue[0]
			queue[0] = nil
			return queue[1:], false
		})
		if task == nil {
			return
		}

		d.run(key, task)
	}
}

func (d *serialDispatcher) run(key string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("update handler for %s panicked: %v", key, r)
		}
	}()
	task()
}

func (d *serialDispatcher) pending() int {
	n := 0
	d.queues.Range(func(_ string, queue []func()) bool {
		n += len(queue)
		return true
	})
	return n
}
