package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-registrations/internal/domain"
)

type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Code: code, Message: msg})
}

// codes names the business failure in responses so clients can branch
// without parsing messages.
var codes = []struct {
	err  error
	code string
}{
	{domain.ErrEventFull, "EVENT_FULL"},
	{domain.ErrAlreadyRegistered, "ALREADY_REGISTERED"},
	{domain.ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{domain.ErrAlreadyAttended, "ALREADY_ATTENDED"},
	{domain.ErrInvalidStatusTransition, "INVALID_STATUS_TRANSITION"},
	{domain.ErrRegistrationClosed, "REGISTRATION_CLOSED"},
	{domain.ErrNotEligible, "NOT_ELIGIBLE"},
	{domain.ErrPurchaseLimit, "PURCHASE_LIMIT"},
	{domain.ErrTeamFull, "TEAM_FULL"},
	{domain.ErrAlreadyInTeam, "ALREADY_IN_TEAM"},
	{domain.ErrInvalidTicket, "INVALID_TICKET"},
	{domain.ErrSerializationFailure, "RETRY"},
	{domain.ErrConflict, "CONFLICT"},
}

// writeError maps err onto a status code. Internal errors are logged and
// never echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	msg := "internal error"
	if errors.As(err, &de) {
		msg = de.Error()
	}

	code := ""
	for _, c := range codes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		writeProblem(w, http.StatusBadRequest, "VALIDATION", msg)
	case domain.KindNotFound:
		if de == nil {
			msg = "not found"
		}
		writeProblem(w, http.StatusNotFound, "NOT_FOUND", msg)
	case domain.KindAuthorization:
		writeProblem(w, http.StatusForbidden, "FORBIDDEN", msg)
	case domain.KindConflict:
		writeProblem(w, http.StatusConflict, code, msg)
	case domain.KindInvalidTicket:
		writeProblem(w, http.StatusBadRequest, "INVALID_TICKET", "invalid ticket")
	default:
		if errors.Is(err, domain.ErrSerializationFailure) {
			writeProblem(w, http.StatusConflict, "RETRY", "the request conflicted with another one, try again")
			return
		}
		loggerFrom(r.Context()).Error("request failed: ", err)
		writeProblem(w, http.StatusInternalServerError, "INTERNAL", msg)
	}
}
