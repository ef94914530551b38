package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"iapBack/internal/models"
	"iapBack/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func clientError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps pipeline errors to responses. Store rejections and bad
// input are the caller's fault; everything else is logged and hidden.
func writeError(w http.ResponseWriter, log services.Logger, err error) {
	var pve *models.ProviderValidationError
	switch {
	case errors.As(err, &pve):
		clientError(w, http.StatusBadRequest, pve.Error())
	case errors.Is(err, models.ErrUnsupportedPlatform),
		errors.Is(err, models.ErrEmptyReceipt),
		errors.Is(err, models.ErrMissingToken),
		errors.Is(err, models.ErrBadNotification):
		clientError(w, http.StatusBadRequest, err.Error())
	default:
		if log != nil {
			log.Errorf("%s\n%s", err.Error(), debug.Stack())
		}
		clientError(w, http.StatusInternalServerError, "internal server error")
	}
}

// rawPayload returns the store response exactly as it was received.
func rawPayload(rr models.RawReceipt) ([]byte, error) {
	switch v := rr.(type) {
	case *models.AppleReceiptResponse:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(v)
	case *models.GoogleReceipt:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unexpected receipt type %T", rr)
	}
}
