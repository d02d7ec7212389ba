package pipeline

import (
	"vaultsync/internal/ignore"
	"vaultsync/internal/model"
)

// Filter drops events for ignored paths. A rename that crosses the ignore
// boundary becomes a remove or a create of the visible side.
func Filter(inCh <-chan model.FileEvent, m *ignore.Matcher) <-chan model.FileEvent {
	outCh := make(chan model.FileEvent, cap(inCh))

	go func() {
		defer close(outCh)

		for event := range inCh {
			if ev, ok := filterEvent(event, m); ok {
				outCh <- ev
			}
		}
	}()

	return outCh
}

func filterEvent(event model.FileEvent, m *ignore.Matcher) (model.FileEvent, bool) {
	newIgnored := m.MatchPath(event.Path)
	if event.Type != model.EventRename {
		return event, !newIgnored
	}

	oldIgnored := m.MatchPath(event.OldPath)
	switch {
	case oldIgnored && newIgnored:
		return event, false
	case newIgnored:
		event.Type = model.EventRemove
		event.Path = event.OldPath
		event.OldPath = ""
	case oldIgnored:
		event.Type = model.EventCreate
		event.OldPath = ""
	}
	return event, true
}
