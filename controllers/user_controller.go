package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"matrimony-chat/middlewares"
	"matrimony-chat/models"
	"matrimony-chat/services"
	"matrimony-chat/utils"
)

// Controller serves the local view API over the identity manager.
type Controller struct {
	manager  *services.Manager
	relay    *Relay
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewController(manager *services.Manager, relay *Relay, allowedOrigins []string, log zerolog.Logger) *Controller {
	return &Controller{
		manager: manager,
		relay:   relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.With().Str("component", "view-api").Logger(),
	}
}

type StatusResponse struct {
	LoggedIn            bool                     `json:"loggedIn"`
	UserID              string                   `json:"userId,omitempty"`
	Connection          *models.ConnectionStatus `json:"connection,omitempty"`
	UnreadMessages      int                      `json:"unreadMessages"`
	UnreadNotifications int                      `json:"unreadNotifications"`
}

func statusOf(client *services.Client) StatusResponse {
	if client == nil {
		return StatusResponse{}
	}
	conn := client.Session().Status()
	return StatusResponse{
		LoggedIn:            true,
		UserID:              client.Identity(),
		Connection:          &conn,
		UnreadMessages:      client.Unread().Count(),
		UnreadNotifications: client.Notifications().UnreadCount(),
	}
}

// Login makes userId the current identity and opens its live session.
func (ctl *Controller) Login(c *gin.Context) {
	var input struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return
	}

	client, err := ctl.manager.SetIdentity(c.Request.Context(), input.UserID)
	if client == nil {
		respondErr(c, err)
		return
	}
	if err != nil {
		// The session is up; only the first conversation load failed.
		ctl.log.Warn().Err(err).Str("user_id", input.UserID).Msg("initial load failed")
		c.JSON(http.StatusOK, utils.Response{Success: true, Data: statusOf(client), Message: err.Error()})
		return
	}
	utils.RespondSuccess(c, statusOf(client), nil)
}

func (ctl *Controller) Logout(c *gin.Context) {
	_, _ = ctl.manager.SetIdentity(c.Request.Context(), "")
	utils.RespondMessage(c, "logged out")
}

func (ctl *Controller) Status(c *gin.Context) {
	client, _ := ctl.manager.Current()
	utils.RespondSuccess(c, statusOf(client), nil)
}

// GetUnread returns the aggregated unread counters.
func (ctl *Controller) GetUnread(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	utils.RespondSuccess(c, gin.H{
		"totalUnread":         client.Unread().Count(),
		"unreadNotifications": client.Notifications().UnreadCount(),
	}, nil)
}
