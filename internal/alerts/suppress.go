package alerts

import (
	"sort"
	"sync"
	"time"
)

type window struct {
	opened     time.Time
	suppressed int
}

// Suppressor counts repeats of a key inside a fixed window opened by the
// first dispatch. State is process-local.
type Suppressor struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewSuppressor() *Suppressor {
	return &Suppressor{windows: make(map[string]*window)}
}

// Allow reports whether key may be dispatched at now. A suppressed call is
// counted against the open window.
func (s *Suppressor) Allow(key string, now time.Time, span time.Duration) bool {
	if span <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok && now.Sub(w.opened) < span {
		w.suppressed++
		return false
	}
	s.windows[key] = &window{opened: now}
	return true
}

// Expired is a closed window that suppressed at least one repeat.
type Expired struct {
	Key        string
	Opened     time.Time
	Suppressed int
}

// Expire closes every window older than span and returns, in key order,
// those that suppressed something.
func (s *Suppressor) Expire(now time.Time, span time.Duration) []Expired {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Expired
	for key, w := range s.windows {
		if now.Sub(w.opened) < span {
			continue
		}
		if w.suppressed > 0 {
			out = append(out, Expired{Key: key, Opened: w.opened, Suppressed: w.suppressed})
		}
		delete(s.windows, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Suppressor) Reset() {
	s.mu.Lock()
	s.windows = make(map[string]*window)
	s.mu.Unlock()
}
