package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const maxBodyBytes = 1 << 20

// requestLog пишет одну строку на запрос и метрику латентности по шаблону маршрута.
func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(started)
		a.metrics.ObserveHTTPRequest(r.Method, route, strconv.Itoa(status), elapsed)

		entry := a.logger.WithFields(log.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"route":       route,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// requireUser пропускает только запросы с валидным bearer-токеном.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticate(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// optionalUser кладёт пользователя в контекст, если токен есть и валиден.
func (a *API) optionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := a.authenticate(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFrom(r.Context())
		if !a.admins.IsAdmin(user) {
			a.writeError(w, r, domain.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) authenticate(r *http.Request) (domain.User, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return domain.User{}, domain.ErrUnauthorized
	}
	return a.verifier.Verify(token)
}

// RateLimit: параметры token bucket на один IP.
type RateLimit struct {
	RPS   float64
	Burst int
}

type visitor struct {
	limiter *rate.Limiter
	seen    time.Time
}

// ipLimiter держит отдельный token bucket на каждый IP и забывает неактивные.
type ipLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    RateLimit
	idleTTL  time.Duration
	lastGC   time.Time
	now      func() time.Time
}

func newIPLimiter(limit RateLimit) *ipLimiter {
	if limit.RPS <= 0 {
		limit.RPS = 5
	}
	if limit.Burst <= 0 {
		limit.Burst = 10
	}
	return &ipLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		idleTTL:  30 * time.Minute,
		now:      time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > l.idleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.seen) > l.idleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.limit.RPS), l.limit.Burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.limiter.AllowN(now, 1)
}

func (a *API) rateLimited(l *ipLimiter, onReject func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(remoteIP(r)) {
				a.logger.WithFields(log.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"path":       r.URL.Path,
				}).Warn("rate limit exceeded")
				onReject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP берёт адрес, уже нормализованный middleware.RealIP.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
