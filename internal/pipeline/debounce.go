package pipeline

import (
	"sync"
	"time"

	"vaultsync/internal/model"
)

// Debounce forwards the last event seen for a path once the path has been
// quiet for delay. Pending events are flushed when inCh closes.
func Debounce(inCh <-chan model.FileEvent, delay time.Duration) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		var (
			mu     sync.Mutex
			wg     sync.WaitGroup
			timers = make(map[string]*time.Timer)
			events = make(map[string]model.FileEvent)
		)

		for event := range inCh {
			path := event.Path

			mu.Lock()
			if t, ok := timers[path]; ok && t.Stop() {
				wg.Done()
			}
			events[path] = merge(events[path], event)

			wg.Add(1)
			timers[path] = time.AfterFunc(delay, func() {
				defer wg.Done()
				mu.Lock()
				ev, ok := events[path]
				delete(timers, path)
				delete(events, path)
				mu.Unlock()
				if ok {
					outCh <- ev
				}
			})
			mu.Unlock()
		}

		mu.Lock()
		for path, t := range timers {
			if t.Stop() {
				wg.Done()
				outCh <- events[path]
			}
		}
		mu.Unlock()

		wg.Wait()
		close(outCh)
	}()

	return outCh
}

// merge keeps a create or rename from being downgraded to a plain write.
func merge(prev, next model.FileEvent) model.FileEvent {
	if next.Type != model.EventWrite {
		return next
	}
	if prev.Type == model.EventCreate || prev.Type == model.EventRename {
		prev.Timestamp = next.Timestamp
		return prev
	}
	return next
}
