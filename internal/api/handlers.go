package api

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"syncboard/internal/auth"
	"syncboard/internal/canvas"
	"syncboard/internal/config"
	"syncboard/internal/models"
	"syncboard/internal/relay"
	"syncboard/internal/service/account"
	"syncboard/internal/worker"
)

// PresenceLister reports members recorded across relay instances.
type PresenceLister interface {
	Members(ctx context.Context, sessionID string) ([]models.ClientPresence, error)
}

type Options struct {
	AllowGuests    bool
	SendBufferSize int
	Board          config.BoardConfig
	// Presence is optional; without it presence comes from the local registry.
	Presence PresenceLister
}

// Handler wires HTTP routes and the websocket endpoint to the relay.
type Handler struct {
	accounts *account.Service
	auth     *auth.Service
	registry *relay.Registry
	renderer worker.Renderer
	presence PresenceLister
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler instance.
func NewHandler(accounts *account.Service, authService *auth.Service, registry *relay.Registry, renderer worker.Renderer, opts Options) *Handler {
	return &Handler{
		accounts: accounts,
		auth:     authService,
		registry: registry,
		renderer: renderer,
		presence: opts.Presence,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// check token userID is match with param userID
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || paramID <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

// boardAccess lets guests through when they are allowed and otherwise
// behaves like the auth middleware.
func (h *Handler) boardAccess() gin.HandlerFunc {
	authMW := h.auth.Middleware()
	return func(c *gin.Context) {
		if h.opts.AllowGuests && h.auth.ExtractToken(c) == "" {
			c.Next()
			return
		}
		authMW(c)
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", h.boardAccess(), h.serveWS)

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	userRoutes := api.Group("/users/:id")
	userRoutes.Use(h.auth.Middleware(), h.requirePathUser(), h.auth.CSRFMiddleware())
	userRoutes.GET("", h.getUser)
	userRoutes.POST("/logout", h.logoutUser)
	userRoutes.DELETE("", h.deleteUser)

	boards := api.Group("/boards")
	boards.Use(h.boardAccess())
	boards.GET("", h.listBoards)
	boards.GET("/:session_id", h.getBoard)
	boards.GET("/:session_id/presence", h.getPresence)
	boards.GET("/:session_id/snapshot.png", h.exportBoard(worker.FormatPNG))
	boards.GET("/:session_id/export.pdf", h.exportBoard(worker.FormatPDF))
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
		"auth_token": authToken,
	})
}

func (h *Handler) getUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	user, err := h.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) logoutUser(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		_ = h.auth.RevokeToken(c.Request.Context(), authToken)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeUserTokens(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.accounts.DeleteUser(c.Request.Context(), id); err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// serveWS upgrades the request and hands the connection to the relay. It
// blocks until the peer disconnects.
func (h *Handler) serveWS(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if userID, ok := auth.UserIDFromContext(c); ok {
		user, err := h.accounts.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		username = user.Username
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}
	peer := relay.NewPeer(conn, h.registry, username, h.opts.SendBufferSize)
	peer.Serve(c.Request.Context())
}

func (h *Handler) listBoards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"boards": h.registry.Sessions(c.Request.Context()),
	})
}

func (h *Handler) snapshot(c *gin.Context) (relay.Snapshot, bool) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return relay.Snapshot{}, false
	}
	snap, ok := h.registry.Snapshot(c.Request.Context(), sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "board not found"})
		return relay.Snapshot{}, false
	}
	return snap, true
}

func (h *Handler) getBoard(c *gin.Context) {
	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"board":   snap.Info(),
		"actions": snap.Actions,
	})
}

func (h *Handler) getPresence(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if h.presence != nil {
		members, err := h.presence.Members(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if members == nil {
			members = make([]models.ClientPresence, 0)
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
		return
	}
	snap, ok := h.snapshot(c)
	if !ok {
		return
	}
	members := snap.Members
	if members == nil {
		members = make([]models.ClientPresence, 0)
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *Handler) exportBoard(format worker.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := h.snapshot(c)
		if !ok {
			return
		}
		result, err := h.renderer.Render(c.Request.Context(), worker.RenderTask{
			SessionID: snap.SessionID,
			Segments:  snap.Active(),
			Format:    format,
			Revision:  snap.Revision(),
			Options: canvas.ExportOptions{
				Width:      h.opts.Board.Width,
				Height:     h.opts.Board.Height,
				Background: models.Color(h.opts.Board.Background),
			},
		})
		if err != nil {
			switch {
			case errors.Is(err, worker.ErrDispatcherBusy):
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
			case errors.Is(err, worker.ErrCanceled), errors.Is(err, context.Canceled):
				c.Status(499)
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.DataFromReader(http.StatusOK, int64(len(result.Data)), result.ContentType, bytes.NewReader(result.Data), map[string]string{
			"Content-Disposition": `inline; filename="` + snap.SessionID + "." + string(result.Format) + `"`,
		})
	}
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	setCookie(c, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
