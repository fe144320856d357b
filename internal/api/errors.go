package api

import (
	"errors"
	"net/http"

	"github.com/akmatori/incidentflow/internal/executor"
	"github.com/akmatori/incidentflow/internal/incidents"
	"github.com/akmatori/incidentflow/internal/remediation"
)

// Error codes returned in ErrorResponse.Code
const (
	CodeBadRequest      = "bad_request"
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeStateTransition = "invalid_state_transition"
	CodeUpstream        = "upstream_failure"
	CodeInternal        = "internal_error"
)

// RespondDomainError translates incident and remediation errors into HTTP responses.
func RespondDomainError(w http.ResponseWriter, err error) {
	var verr *incidents.ValidationError
	switch {
	case errors.Is(err, ErrInvalidBody):
		RespondErrorWithCode(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.As(err, &verr):
		RespondValidationError(w, verr.Fields)
	case errors.Is(err, incidents.ErrValidation), errors.Is(err, remediation.ErrInvalidAction):
		RespondErrorWithCode(w, http.StatusUnprocessableEntity, CodeValidation, err.Error())
	case errors.Is(err, incidents.ErrNotFound), errors.Is(err, executor.ErrUnknownExecution):
		RespondErrorWithCode(w, http.StatusNotFound, CodeNotFound, err.Error())
	// infrastructure first: a failed remediation walk also wraps the transition error
	case errors.Is(err, remediation.ErrInfrastructure), errors.Is(err, executor.ErrWorkerNotConnected):
		RespondErrorWithCode(w, http.StatusBadGateway, CodeUpstream, err.Error())
	case errors.Is(err, incidents.ErrStateTransition):
		RespondErrorWithCode(w, http.StatusConflict, CodeStateTransition, err.Error())
	default:
		RespondErrorWithCode(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
