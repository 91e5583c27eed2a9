package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// WSController upgrades a UI socket and attaches it to the event relay.
func (ctl *Controller) WSController(c *gin.Context) {
	conn, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctl.log.Warn().Err(err).Msg("relay upgrade failed")
		return
	}
	ctl.relay.Serve(conn)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
