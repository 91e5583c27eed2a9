package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony-chat/middlewares"
	"matrimony-chat/utils"
)

// GetConversations lists conversations, optionally filtered by name with ?q=.
func (ctl *Controller) GetConversations(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	utils.RespondSuccess(c, client.Directory().Search(c.Query("q")), nil)
}

// CreateConversationHandler returns the conversation with another user,
// creating it when the pair has none.
func (ctl *Controller) CreateConversationHandler(c *gin.Context) {
	var input struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	client := middlewares.ClientFromContext(c)
	if input.UserID == client.Identity() {
		utils.RespondError(c, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}
	conv, err := client.StartConversation(c.Request.Context(), input.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondSuccess(c, conv, nil)
}

// ResetUnread zeroes a conversation's unread badge.
func (ctl *Controller) ResetUnread(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	id := c.Param("conversation_id")
	if !client.Directory().ResetUnread(id) {
		utils.RespondError(c, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondMessage(c, "unread reset")
}

// OpenConversation opens a view and returns its first state.
func (ctl *Controller) OpenConversation(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	view, err := client.OpenConversation(c.Request.Context(), c.Param("conversation_id"))
	if view == nil {
		respondErr(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, utils.Response{Success: true, Data: view.State(), Message: err.Error()})
		return
	}
	utils.RespondSuccess(c, view.State(), nil)
}

func (ctl *Controller) CloseConversation(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	if err := client.CloseConversation(c.Param("conversation_id")); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondMessage(c, "view closed")
}
