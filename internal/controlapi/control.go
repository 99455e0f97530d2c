package controlapi

import (
	"net/http"
	"time"

	"github.com/linnemanlabs/ambient/internal/settings"
)

const maxSnoozeMinutes = 24 * 60

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

type statusResponse struct {
	Ticks        uint64     `json:"ticks"`
	App          string     `json:"app_name,omitempty"`
	Connected    bool       `json:"connected"`
	Snoozed      bool       `json:"snoozed"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
	QueueDepth   int        `json:"queue_depth"`
}

type configResponse struct {
	APIURL    string `json:"api_url"`
	APIToken  string `json:"api_token"`
	Connected bool   `json:"connected"`
}

// configRequest leaves the stored token alone when api_token is absent.
type configRequest struct {
	APIURL   string  `json:"api_url"`
	APIToken *string `json:"api_token"`
}

func (a *API) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Minutes <= 0 || req.Minutes > maxSnoozeMinutes {
		writeError(w, http.StatusBadRequest, "invalid_request", "minutes must be between 1 and 1440")
		return
	}

	until := a.deps.Loop.Snooze(time.Duration(req.Minutes) * time.Minute)
	a.logger.Info(r.Context(), "suggestions snoozed", "minutes", req.Minutes, "until", until.UTC().Format(time.RFC3339))
	writeJSON(w, http.StatusOK, map[string]any{"snoozed_until": until.UTC()})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := a.deps.Loop.Snapshot()
	resp := statusResponse{
		Ticks:     snap.Ticks,
		App:       snap.App,
		Connected: a.deps.Settings.HasCredential(),
		Snoozed:   a.deps.Loop.Snoozed(),
	}
	if until := a.deps.Loop.SnoozedUntil(); !until.IsZero() {
		u := until.UTC()
		resp.SnoozedUntil = &u
	}
	if a.deps.Queue != nil {
		resp.QueueDepth = a.deps.Queue.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleQuit(w http.ResponseWriter, r *http.Request) {
	a.logger.Info(r.Context(), "quit requested over control api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "quitting"})
	a.deps.Loop.RequestQuit()
}

func (a *API) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.config())
}

func (a *API) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decode(w, r, &req) {
		return
	}

	next := settings.Settings{APIURL: req.APIURL, APIToken: a.deps.Settings.Get().APIToken}
	if req.APIToken != nil {
		next.APIToken = *req.APIToken
	}
	if err := a.deps.Settings.Save(next); err != nil {
		a.fail(w, r, err, http.StatusInternalServerError, "failed to save settings")
		return
	}

	a.logger.Info(r.Context(), "settings saved", "api_url", a.deps.Settings.Get().APIURL)
	writeJSON(w, http.StatusOK, a.config())
}

func (a *API) handleLatestSuggestion(w http.ResponseWriter, _ *http.Request) {
	s, ok := a.deps.Suggestions.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) config() configResponse {
	cur := a.deps.Settings.Get()
	return configResponse{
		APIURL:    cur.APIURL,
		APIToken:  maskToken(cur.APIToken),
		Connected: cur.APIToken != "",
	}
}

// maskToken keeps the last four characters of tokens long enough to
// identify.
func maskToken(tok string) string {
	switch {
	case tok == "":
		return ""
	case len(tok) <= 8:
		return "****"
	default:
		return "****" + tok[len(tok)-4:]
	}
}
