package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony-chat/services"
	"matrimony-chat/utils"
)

// respondErr maps a service error to a status code and writes it.
func respondErr(c *gin.Context, err error) {
	_ = c.Error(err)
	utils.RespondError(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var apiErr *services.APIError
	switch {
	case errors.Is(err, services.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrConversationNotFound), errors.Is(err, services.ErrViewNotOpen):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotConnected), errors.Is(err, services.ErrIdentityChanged),
		errors.Is(err, services.ErrClientClosed):
		return http.StatusConflict
	case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrNoParticipant):
		return http.StatusBadRequest
	case errors.As(err, &apiErr):
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	}
	return http.StatusBadGateway
}
