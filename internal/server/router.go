package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ephemera-notes/ephemera/internal/notes"
	"github.com/ephemera-notes/ephemera/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "ephemera_user_id"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
	errMissingRealtimeServer = errors.New("realtime handler dependency required")
)

// TokenManager issues and validates account tokens.
type TokenManager interface {
	IssueToken(userID, username string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// UserAccounts is the router's view of account management.
type UserAccounts interface {
	Register(ctx context.Context, username, email, password string) (users.User, error)
	Authenticate(ctx context.Context, login, password string) (users.User, error)
	GetByID(ctx context.Context, userID string) (users.User, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	TokenManager    TokenManager
	NotesService    *notes.Service
	UsersService    UserAccounts
	RealtimeHandler http.Handler
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin router for the API and websocket endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.RealtimeHandler == nil {
		return nil, errMissingRealtimeServer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		notesService: deps.NotesService,
		usersService: deps.UsersService,
		logger:       logger,
	}

	router.POST("/api/auth/signup", handler.handleSignup)
	router.POST("/api/auth/login", handler.handleLogin)
	router.GET("/api/auth/me", handler.authorizeRequest, handler.handleMe)

	router.POST("/api/notes", handler.optionalAuth, handler.handleCreateNote)
	router.GET("/api/notes/check-url/:url", handler.handleCheckURL)
	router.GET("/api/notes/:id/meta", handler.handleNoteMeta)
	router.POST("/api/notes/:id/access", handler.handleNoteAccess)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/api/notes/:id/change-url", handler.handleChangeURL)
	protected.POST("/api/notes/:id/password", handler.handleSetPassword)
	protected.DELETE("/api/notes/:id/password", handler.handleRemovePassword)
	protected.POST("/api/notes/:id/readonly", handler.handleSetReadOnly)

	router.GET("/ws", gin.WrapH(deps.RealtimeHandler))

	return router, nil
}

type httpHandler struct {
	tokens       TokenManager
	notesService *notes.Service
	usersService UserAccounts
	logger       *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	userID, err := h.bearerSubject(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// optionalAuth resolves the bearer token when present but lets anonymous
// requests through.
func (h *httpHandler) optionalAuth(c *gin.Context) {
	if userID, err := h.bearerSubject(c); err == nil {
		c.Set(userIDContextKey, userID)
	}
	c.Next()
}

func (h *httpHandler) bearerSubject(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errInvalidAuthorization
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errInvalidAuthorization
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		return "", err
	}
	return subject, nil
}
