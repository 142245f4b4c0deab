package server

import (
	"container/list"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/software3/software3/internal/config"
)

// evictionLogInterval is the minimum time between eviction warnings.
const evictionLogInterval = 30 * time.Second

// clientBucket is one client's token bucket.
type clientBucket struct {
	addr    string
	limiter *rate.Limiter
	seen    time.Time
}

// clientLimiter keeps a token bucket per client address. When maxClients
// buckets exist the least recently seen client is dropped to make room.
type clientLimiter struct {
	log        zerolog.Logger
	limit      rate.Limit
	burst      int
	maxClients int
	idle       time.Duration
	now        func() time.Time

	mu      sync.Mutex
	clients map[string]*list.Element
	recent  *list.List // front is the most recently seen
	evicted int
	lastLog time.Time
}

func newClientLimiter(cfg config.RateLimitConfig, log zerolog.Logger) *clientLimiter {
	return &clientLimiter{
		log:        log,
		limit:      rate.Limit(cfg.GetRPS()),
		burst:      cfg.GetBurst(),
		maxClients: cfg.GetMaxClients(),
		idle:       cfg.GetIdleTimeout(),
		now:        time.Now,
		clients:    make(map[string]*list.Element),
		recent:     list.New(),
	}
}

// allow takes a token from addr's bucket.
func (l *clientLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elem, ok := l.clients[addr]
	if ok {
		l.recent.MoveToFront(elem)
	} else {
		if l.recent.Len() >= l.maxClients {
			l.evictOldest(now)
		}
		elem = l.recent.PushFront(&clientBucket{
			addr:    addr,
			limiter: rate.NewLimiter(l.limit, l.burst),
		})
		l.clients[addr] = elem
	}
	b := elem.Value.(*clientBucket)
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// evictOldest must be called with mu held.
func (l *clientLimiter) evictOldest(now time.Time) {
	back := l.recent.Back()
	if back == nil {
		return
	}
	l.recent.Remove(back)
	delete(l.clients, back.Value.(*clientBucket).addr)

	l.evicted++
	if now.Sub(l.lastLog) >= evictionLogInterval {
		l.log.Warn().Int("evicted", l.evicted).Int("capacity", l.maxClients).Msg("Rate limiter full, dropping least recent clients")
		l.lastLog = now
		l.evicted = 0
	}
}

// sweep drops buckets idle for longer than the idle timeout and returns how
// many were dropped.
func (l *clientLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	// Buckets are ordered by last access, so the idle ones sit at the back.
	for e := l.recent.Back(); e != nil; {
		b := e.Value.(*clientBucket)
		if now.Sub(b.seen) <= l.idle {
			break
		}
		prev := e.Prev()
		l.recent.Remove(e)
		delete(l.clients, b.addr)
		n++
		e = prev
	}
	return n
}

// run sweeps idle buckets until ctx is cancelled.
func (l *clientLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(max(l.idle/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.sweep(); n > 0 {
				l.log.Debug().Int("dropped", n).Msg("Dropped idle rate limit buckets")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *clientLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recent.Len()
}

// middleware answers 429 once a client runs out of tokens.
func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
