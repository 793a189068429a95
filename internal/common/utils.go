package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// errorBody is the JSON envelope for every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ReturnJSONError writes a JSON error response with the given status code and message
func ReturnJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: statusCode, Message: message}}); err != nil {
		// If JSON encoding fails, fall back to plain text
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(fmt.Sprintf("Error: %s", message)))
	}
}

// AbortWithError writes err as a JSON error envelope and stops the gin chain.
// Errors without an AppError in their chain become 500s with a generic message.
func AbortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	if appErr, ok := GetAppError(err); ok {
		status = appErr.StatusCode()
		message = appErr.Message
	}
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: status, Message: message}})
}

// ParseID parses a positive decimal entity id.
func ParseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewValidationError("invalid %s: %q", name, value)
	}
	return id, nil
}

// FormatID renders an id the way it is stored in custom fields.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
