package webhook

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/agentstation/dupewatch/pkg/events"
)

// suppressor remembers recently dispatched changes so that a notification
// delivered twice within the window only reconciles once.
type suppressor struct {
	store *gocache.Cache
}

// newSuppressor returns nil when window is not positive.
func newSuppressor(window time.Duration) *suppressor {
	if window <= 0 {
		return nil
	}
	return &suppressor{store: gocache.New(window, 2*window)}
}

// firstSeen records change and reports whether it was new.
func (s *suppressor) firstSeen(change events.ChecksumChange) bool {
	if s == nil {
		return true
	}
	return s.store.Add(suppressKey(change), struct{}{}, gocache.DefaultExpiration) == nil
}

// forget drops change so a later delivery is reconciled again.
func (s *suppressor) forget(change events.ChecksumChange) {
	if s == nil {
		return
	}
	s.store.Delete(suppressKey(change))
}

// size returns the number of remembered changes.
func (s *suppressor) size() int {
	if s == nil {
		return 0
	}
	return s.store.ItemCount()
}

func suppressKey(c events.ChecksumChange) string {
	return c.AssetID + "|" + c.NewChecksum
}
