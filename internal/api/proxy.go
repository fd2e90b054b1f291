package api

import (
	"net/http"
	"net/http/httputil"

	"go.uber.org/zap"
)

// newOriginProxy forwards pass-through requests to the origin. Without a
// configured origin the service is mounted in front of itself and has nothing
// to forward to, so pass-through requests get 404.
func (s *Server) newOriginProxy() http.Handler {
	if s.origin == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	target := s.origin
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.logger.Warn("origin unavailable", zap.String("path", r.URL.Path), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
