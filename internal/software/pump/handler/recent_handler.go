package handler

import "net/http"

// ----- Handler: GET /exchanges/recent -----

func (handler *PumpHTTPHandler) handleRecentExchanges(w http.ResponseWriter, r *http.Request) {
	recent := handler.monitor.Recent()

	handler.jsonResponse(r.Context(), w, http.StatusOK, map[string]any{
		"count":     len(recent),
		"exchanges": recent,
	})
}
