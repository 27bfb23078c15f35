package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/kredit/internal/alert/domain"
	consumptiondomain "github.com/smallbiznis/kredit/internal/consumption/domain"
	grantdomain "github.com/smallbiznis/kredit/internal/grant/domain"
	organizationdomain "github.com/smallbiznis/kredit/internal/organization/domain"
	"github.com/smallbiznis/kredit/internal/providers/billing"
	subscriptiondomain "github.com/smallbiznis/kredit/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/kredit/internal/usage/domain"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware renders the last handler error after the chain
// finished, so handlers only push typed errors and return.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, consumptiondomain.ErrAccessPaused):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "access_paused",
			Message: "account access paused due to payment issues",
		}
	case errors.Is(err, consumptiondomain.ErrNoCreditsAvailable):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "no_credits_available",
			Message: "no credits available and overage disabled",
		}
	case errors.Is(err, consumptiondomain.ErrOverageCapExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "overage_cap_exceeded",
			Message: "overage cap exceeded",
		}
	case errors.Is(err, consumptiondomain.ErrNoActivePeriod):
		return http.StatusConflict, errorPayload{
			Type:    "no_active_period",
			Message: "subscription has no open usage period",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, billing.ErrNotConfigured),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, consumptiondomain.ErrInvalidAmount),
		errors.Is(err, organizationdomain.ErrInvalidOrganizationID),
		errors.Is(err, organizationdomain.ErrInvalidOrganizationName),
		errors.Is(err, subscriptiondomain.ErrInvalidSubscriptionID),
		errors.Is(err, grantdomain.ErrInvalidGrantAmount),
		errors.Is(err, usagedomain.ErrInvalidListRequest),
		errors.Is(err, alertdomain.ErrSettingsIncomplete):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, grantdomain.ErrGrantNotFound),
		errors.Is(err, grantdomain.ErrTopUpNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
