package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"matrimony-chat/middlewares"
	"matrimony-chat/models"
	"matrimony-chat/services"
	"matrimony-chat/utils"
)

const defaultNotificationLimit = 20

func (ctl *Controller) GetNotifications(c *gin.Context) {
	q := services.NotificationQuery{
		Status: models.NotificationStatus(c.Query("status")),
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", defaultNotificationLimit),
	}
	switch q.Status {
	case "", models.NotificationUnread, models.NotificationRead, models.NotificationArchived:
	default:
		utils.RespondError(c, http.StatusBadRequest, "unknown notification status")
		return
	}

	client := middlewares.ClientFromContext(c)
	items, pagination, err := client.Notifications().List(c.Request.Context(), q)
	if err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondSuccess(c, items, pagination)
}

func (ctl *Controller) MarkNotificationRead(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	if err := client.Notifications().MarkRead(c.Request.Context(), c.Param("notification_id")); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondMessage(c, "notification marked read")
}

func (ctl *Controller) MarkAllNotificationsRead(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	if err := client.Notifications().MarkAllRead(c.Request.Context()); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondMessage(c, "all notifications marked read")
}

func (ctl *Controller) DeleteNotification(c *gin.Context) {
	client := middlewares.ClientFromContext(c)
	if err := client.Notifications().Delete(c.Request.Context(), c.Param("notification_id")); err != nil {
		respondErr(c, err)
		return
	}
	utils.RespondMessage(c, "notification deleted")
}

func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
