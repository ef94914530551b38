package handlers

import (
	"net/http"
	"strings"
)

// routeID returns the ":id" segment captured by pat. A blank id is answered
// with 400 and ok is false.
func routeID(w http.ResponseWriter, r *http.Request, resource string) (id string, ok bool) {
	id = strings.TrimSpace(r.URL.Query().Get(":id"))
	if id == "" {
		clientError(w, http.StatusBadRequest, "missing "+resource+" id")
		return "", false
	}
	return id, true
}
