package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BridgeWell/CareFlow/internal/models"
)

// fallbackErrorResponse is marshaled once at startup so a handler can still
// answer with valid JSON when marshaling its real payload fails.
var fallbackErrorResponse = func() []byte {
	data, err := json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic("api: cannot marshal fallback error response: " + err.Error())
	}
	return data
}()

// writeJSONResponse marshals the payload before touching the writer so an
// encoding failure never leaves a half-written response. On failure the
// status is downgraded to 500 and the fallback body is sent instead.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
