package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleNLUAnalyze(w http.ResponseWriter, r *http.Request) {
	var req nluAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.Text == "" {
		writeError(w, errInvalid("text is required"))
		return
	}

	classification, err := s.Classifier.Classify(r.Context(), req.Text)
	if err != nil {
		s.Logger.Warn("nlu analyze failed", "err", err)
		writeError(w, errUnavailable("classification is temporarily unavailable"))
		return
	}

	writeJSON(w, http.StatusOK, nluAnalyzeResponse{
		Intent: classification.Intent,
		Confidence: classification.Confidence,
		Method: classification.Method,
		Entities: classification.Entities,
	})
}
