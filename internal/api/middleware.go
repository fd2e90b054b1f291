package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/user/pagejson-service/internal/domain"
	"github.com/user/pagejson-service/internal/pipeline"
	"go.uber.org/zap"
)

// PageMiddleware answers page requests under the API prefix with JSON and
// hands everything else to next unchanged.
func (s *Server) PageMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, host := s.originFor(r)
		res := s.pipeline.Handle(r.Context(), pipeline.Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header,
			Scheme: scheme,
			Host:   host,
		})
		if res.Outcome == pipeline.PassThrough {
			next.ServeHTTP(w, r)
			return
		}

		body, err := json.Marshal(res.Body)
		if err != nil {
			s.logger.Error("failed to encode page response", zap.String("path", r.URL.Path), zap.Error(err))
			s.respondWithError(w, http.StatusInternalServerError, s.errorBody(domain.KindCache, "could not encode response", http.StatusInternalServerError))
			return
		}

		for k, vs := range res.Header {
			w.Header()[k] = vs
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(res.Status)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := w.Write(body); err != nil {
			s.logger.Debug("client went away", zap.String("path", r.URL.Path), zap.Error(err))
		}
	})
}

// originFor picks the scheme and host page markup is fetched from.
func (s *Server) originFor(r *http.Request) (string, string) {
	if s.origin != nil {
		return s.origin.Scheme, s.origin.Host
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme, r.Host
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", statusOf(ww)),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.metrics.ObserveHTTP(r.Method, strconv.Itoa(statusOf(ww)), time.Since(start).Seconds())
	})
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
