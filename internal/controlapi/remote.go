package controlapi

import (
	"net/http"
	"strings"
)

type askRequest struct {
	Question string `json:"question"`
}

type analyzeRequest struct {
	ScreenText string `json:"screen_text"`
	AppName    string `json:"app_name"`
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}

	body, err := a.deps.Remote.Search(r.Context(), q)
	if err != nil {
		a.fail(w, r, err, http.StatusBadGateway, "search failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	answer, err := a.deps.Remote.Ask(r.Context(), req.Question)
	if err != nil {
		a.fail(w, r, err, http.StatusBadGateway, "ask failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ScreenText) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "screen_text is required")
		return
	}

	analysis, err := a.deps.Remote.Analyze(r.Context(), req.ScreenText, req.AppName)
	if err != nil {
		a.fail(w, r, err, http.StatusBadGateway, "analyze failed")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleOCR runs one screenshot and OCR pass. Nothing is captured or sent.
func (a *API) handleOCR(w http.ResponseWriter, r *http.Request) {
	capture, err := a.deps.Screen.CaptureScreen(r.Context())
	if err != nil {
		a.fail(w, r, err, http.StatusInternalServerError, "screen capture failed")
		return
	}
	writeJSON(w, http.StatusOK, capture)
}
