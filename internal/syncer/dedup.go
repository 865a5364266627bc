package syncer

import (
	"container/list"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/hypo-app/hypo-core/internal/model"
)

// dedupCapacity and dedupRetention implement spec §4.9's "fixed-size
// recent-signatures window (content hash + origin device id; 64 entries
// LRU)... within the last 5 seconds" echo-suppression rule.
const (
	dedupCapacity  = 64
	dedupRetention = 5 * time.Second
)

type signature [32]byte

func signatureFor(origin model.DeviceId, data []byte) signature {
	h := sha256.New()
	h.Write([]byte(origin.Canonical()))
	h.Write(data)
	var out signature
	copy(out[:], h.Sum(nil))
	return out
}

type dedupEntry struct {
	sig  signature
	seen time.Time
}

// dedupWindow is a bounded LRU of recent (content-hash, origin) signatures,
// owned exclusively by the SyncCoordinator pipeline task per spec §5.
type dedupWindow struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[signature]*list.Element
}

func newDedupWindow(capacity int) *dedupWindow {
	return &dedupWindow{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[signature]*list.Element),
	}
}

// seenRecently reports whether sig was recorded within dedupRetention, and
// records it (refreshing its position) regardless of the outcome.
func (d *dedupWindow) seenRecently(sig signature, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[sig]; ok {
		entry := el.Value.(*dedupEntry)
		recent := now.Sub(entry.seen) <= dedupRetention
		entry.seen = now
		d.order.MoveToFront(el)
		return recent
	}

	el := d.order.PushFront(&dedupEntry{sig: sig, seen: now})
	d.index[sig] = el
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.index, oldest.Value.(*dedupEntry).sig)
		}
	}
	return false
}
