// README: Base handler utilities (JSON helpers, error mapping, request validation).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"foodbridge/internal/apperr"
	"foodbridge/internal/log"
	"foodbridge/internal/modules/matching"
	"foodbridge/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// capacityResponse is the 422 body of a failed auto-assignment.
type capacityResponse struct {
	errorResponse
	Candidates []matching.Candidate `json:"candidates"`
	DemandKg   float64              `json:"demand_kg"`
	Considered int                  `json:"considered"`
}

// isValidID accepts the identifiers issued by this service and by the
// auth provider: letters, digits, '-' and '_', at most 128 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads :id, answering 400 itself when it is malformed.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid donation id")
		return "", false
	}
	return types.ID(id), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

// writeDomainError maps err through the error taxonomy. Infrastructure
// faults are logged and hidden behind a generic message.
func writeDomainError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		log.Error(c.Request.Context(), "request failed", log.Err("error", err))
		writeError(c, status, "internal", "internal error")
		return
	}
	var capErr *matching.CapacityError
	if errors.As(err, &capErr) && capErr.Ranking != nil {
		r := capErr.Ranking
		writeJSON(c, status, capacityResponse{
			errorResponse: errorResponse{Error: err.Error(), Code: apperr.Code(err)},
			Candidates:    r.Candidates,
			DemandKg:      r.DemandKg,
			Considered:    r.Considered,
		})
		return
	}
	writeError(c, status, apperr.Code(err), err.Error())
}

// writeBindError reports gin binding failures as bad requests.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeError(c, http.StatusBadRequest, "bad_request", "field "+fe.Namespace()+" failed "+fe.Tag()+" validation")
		return
	}
	writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
}

// RegisterValidators installs the custom binding tags used by request types.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected gin validator engine")
	}
	return v.RegisterValidation("foodunit", func(fl validator.FieldLevel) bool {
		return types.Unit(fl.Field().String()).Valid()
	})
}
