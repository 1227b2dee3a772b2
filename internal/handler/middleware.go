package handler

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/pkg/logger"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GlobalLoggingMiddleware logs all HTTP requests
func GlobalLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger.Base().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.RequestURI),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// CORSMiddleware adds CORS headers to all requests
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Twilio-Signature")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ValidationMiddleware validates common request parameters for the
// management API. Webhook routes are exempt since providers post
// form-encoded bodies.
func ValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && contentType != "application/json" {
				http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// APIKeyMiddleware validates a JWT from the X-API-Key header for management
// endpoints.
func APIKeyMiddleware(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip validation if no secret key is configured (for development)
			if secretKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			jwtToken := r.Header.Get("X-API-Key")
			if jwtToken == "" {
				logger.Base().Warn("missing api key for management request",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				sendUnauthorizedResponse(w, "missing key")
				return
			}

			token, claims, err := parseAndValidateJWT(jwtToken, secretKey)
			if err != nil || !token.Valid || claims == nil {
				logger.Base().Warn("invalid api key",
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				sendUnauthorizedResponse(w, "invalid key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func sendUnauthorizedResponse(w http.ResponseWriter, jsonError string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(fmt.Sprintf(`{"error": "%s"}`, jsonError)))
}

// parseAndValidateJWT parses and validates a JWT token
func parseAndValidateJWT(jwtToken, secretKey string) (*jwt.Token, jwt.MapClaims, error) {
	token, err := jwt.Parse(jwtToken, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		if alg, ok := token.Header["alg"].(string); !ok || alg != "HS256" {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secretKey), nil
	})

	if err != nil || !token.Valid {
		return token, nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return token, nil, fmt.Errorf("invalid token claims format")
	}

	return token, claims, nil
}

// ipRateLimiter keeps a token bucket per client IP so one noisy caller
// cannot starve webhook handling for everyone.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *ipRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// RateLimitMiddleware limits webhook request rate per client IP. A
// perSecond of zero or below disables the limit.
func RateLimitMiddleware(perSecond float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = int(perSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	limiter := newIPRateLimiter(perSecond, burst)

	return func(next http.Handler) http.Handler {
		if perSecond <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiter.limiterFor(ip).Allow() {
				logger.Base().Warn("webhook rate limit exceeded",
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("path", r.URL.Path))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
