package api

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *Server) respondWithError(w http.ResponseWriter, code int, body any) {
	s.respondWithJSON(w, code, body)
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"error":{"message":"could not encode response","type":"FETCH_ERROR"}}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(response)
}
