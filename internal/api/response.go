package api

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorResponse is the standard error envelope returned by admin endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WebhookResponse is the envelope returned to alert sources. It always
// carries at least the success flag; the rest depends on the outcome.
type WebhookResponse struct {
	Success      bool     `json:"success"`
	Action       string   `json:"action,omitempty"`
	TicketID     string   `json:"ticketId,omitempty"`
	TicketNumber string   `json:"ticketNumber,omitempty"`
	Method       string   `json:"method,omitempty"`
	TriggerID    string   `json:"triggerId,omitempty"`
	Synced       *int     `json:"synced,omitempty"`
	Error        string   `json:"error,omitempty"`
	Missing      []string `json:"missing,omitempty"`
	OTRSStatus   int      `json:"otrsStatus,omitempty"`
	OTRSData     string   `json:"otrsData,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("Failed to encode JSON response: %v", err)
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondValidationError writes field-level validation errors as a 422 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    "validation_error",
		Details: fieldErrors,
	})
}
