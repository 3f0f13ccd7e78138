package middleware

import (
	"net/http"

	"github.com/go-chi/render"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// WriteJSON writes a successful envelope with the given status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	render.Status(r, status)
	render.JSON(w, r, Envelope{Success: true, Message: message, Data: data})
}

// WriteError writes a failure envelope. message is shown to clients as is.
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, Envelope{Success: false, Message: message})
}

// WriteInternalServerError hides the cause; callers log it.
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusInternalServerError, "internal server error")
}
