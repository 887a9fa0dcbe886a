package handler

import "net/http"

// ----- Handler: GET / -----

func (handler *PumpHTTPHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		Message string `json:"message"`
	}
	handler.jsonResponse(r.Context(), w, http.StatusOK, resp{Message: "Welcome to the Pump Service"})
}
