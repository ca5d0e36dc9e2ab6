package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"PPresence/middleware"
	"PPresence/service/notification"
	"PPresence/service/presence"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// Presence is what the HTTP surface needs from the delivery router.
type Presence interface {
	presence.Deliverer
	IsOnline(userID string) bool
	OnlineUserIDs() []string
	OnlineCount() int
	Session(userID string) (presence.Session, bool)
}

// Notifications is satisfied by *notification.Notifier.
type Notifications interface {
	Notify(ctx context.Context, n *notification.Notification) (bool, error)
	List(ctx context.Context, userID string, limit int) ([]notification.Notification, error)
}

type API struct {
	presence    Presence
	notify      Notifications // nil disables the notification routes
	internalKey string
}

func New(p Presence, notify Notifications, internalKey string) *API {
	return &API{presence: p, notify: notify, internalKey: internalKey}
}

// Register mounts diagnostics under /presence and the collaborator API under
// /internal.
func (a *API) Register(r gin.IRouter) {
	open := middleware.RouteOpt{}
	internal := middleware.RouteOpt{Internal: true, InternalKey: a.internalKey}

	middleware.GET(r, "/presence/online", a.online, open)
	middleware.GET(r, "/presence/online/count", a.onlineCount, open)
	middleware.GET(r, "/presence/online/:userId", a.onlineUser, open)

	middleware.POST(r, "/internal/deliver/users/:userId", a.deliverUser, internal)
	middleware.POST(r, "/internal/deliver/broadcast", a.deliverBroadcast, internal)
	if a.notify != nil {
		middleware.POST(r, "/internal/notifications", a.createNotification, internal)
		middleware.GET(r, "/internal/notifications/:userId", a.listNotifications, internal)
	}
}

type deliverReq struct {
	Event        string `json:"event" binding:"required"`
	Data         any    `json:"data"`
	ExceptUserID string `json:"exceptUserId"`
}

func (a *API) online(c *gin.Context) {
	users := a.presence.OnlineUserIDs()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (a *API) onlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": a.presence.OnlineCount()})
}

func (a *API) onlineUser(c *gin.Context) {
	userID := c.Param("userId")
	s, ok := a.presence.Session(userID)
	body := gin.H{"userId": userID, "online": ok}
	if ok {
		body["socketId"] = s.Conn.ID()
		body["connectedAt"] = s.ConnectedAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, body)
}

func (a *API) deliverUser(c *gin.Context) {
	var req deliverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	ok := a.presence.SendToUser(c.Param("userId"), req.Event, req.Data)
	c.JSON(http.StatusOK, gin.H{"delivered": ok})
}

func (a *API) deliverBroadcast(c *gin.Context) {
	var req deliverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	n := a.presence.BroadcastAllExcept(req.ExceptUserID, req.Event, req.Data)
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}

func (a *API) createNotification(c *gin.Context) {
	var n notification.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		fail(c, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	delivered, err := a.notify.Notify(c.Request.Context(), &n)
	if err != nil {
		if errors.Is(err, notification.ErrInvalid) {
			fail(c, errs.ErrArgs.WithDetail(err.Error()))
			return
		}
		fail(c, errs.ErrStore.WithDetail(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": n.ID, "delivered": delivered})
}

func (a *API) listNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	items, err := a.notify.List(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		fail(c, errs.ErrStore.WithDetail(err.Error()))
		return
	}
	if items == nil {
		items = []notification.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func fail(c *gin.Context, e errs.CodeError) {
	c.AbortWithStatusJSON(e.HTTPStatus(), e)
}
