package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"matrimony-chat/middlewares"
	"matrimony-chat/models"
	"matrimony-chat/services"
	"matrimony-chat/utils"
)

func (ctl *Controller) view(c *gin.Context) (*services.ChatView, bool) {
	client := middlewares.ClientFromContext(c)
	view, err := client.View(c.Param("conversation_id"))
	if err != nil {
		respondErr(c, err)
		return nil, false
	}
	return view, true
}

// GetMessagesByConversationID returns the open view's state.
func (ctl *Controller) GetMessagesByConversationID(c *gin.Context) {
	view, ok := ctl.view(c)
	if !ok {
		return
	}
	utils.RespondSuccess(c, view.State(), nil)
}

// LoadMoreMessages fetches older history into the view.
func (ctl *Controller) LoadMoreMessages(c *gin.Context) {
	view, ok := ctl.view(c)
	if !ok {
		return
	}
	added, err := view.LoadMore(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	state := view.State()
	utils.RespondSuccess(c, gin.H{"added": added, "hasMore": state.HasMore, "messages": state.Messages}, nil)
}

func (ctl *Controller) SendMessage(c *gin.Context) {
	var input struct {
		Content string             `json:"content" binding:"required"`
		Type    models.MessageType `json:"type"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if input.Type != "" && !input.Type.Valid() {
		utils.RespondError(c, http.StatusBadRequest, "unknown message type")
		return
	}

	view, ok := ctl.view(c)
	if !ok {
		return
	}
	msg, err := view.Send(c.Request.Context(), input.Content, input.Type)
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondSuccess(c, msg, nil)
}

func (ctl *Controller) DeleteMessage(c *gin.Context) {
	view, ok := ctl.view(c)
	if !ok {
		return
	}
	if err := view.Delete(c.Request.Context(), c.Param("message_id")); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondMessage(c, "message deleted")
}

// Typing records a keystroke in the open view.
func (ctl *Controller) Typing(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	if !client.Session().Connected() {
		respondErr(c, services.ErrNotConnected)
		return
	}
	view, ok := ctl.view(c)
	if !ok {
		return
	}
	view.Keystroke()
	utils.RespondMessage(c, "ok")
}
