package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony-chat/models"
)

// Response is the envelope of every view API answer.
type Response struct {
	Success    bool               `json:"success"`
	Data       any                `json:"data,omitempty"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// RespondSuccess writes a 200 envelope. pagination may be nil.
func RespondSuccess(c *gin.Context, data any, pagination *models.Pagination) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Pagination: pagination})
}

// RespondMessage writes a 200 envelope carrying only a message.
func RespondMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Response{Success: true, Message: message})
}

func RespondError(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Success: false, Message: message})
}
