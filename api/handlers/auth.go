package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/internal/auth"
	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/database/queries"
	"github.com/OldStager01/fleet-autoscaler/pkg/validation"
)

// UserStore looks operators up by name and reports queries.ErrUserNotFound
// for unknown ones.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*queries.User, error)
}

// StaticUserStore holds the single configured operator used when the
// database is disabled.
type StaticUserStore struct {
	user queries.User
}

func NewStaticUserStore(username, password string) (*StaticUserStore, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &StaticUserStore{user: queries.User{
		ID:           1,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}}, nil
}

func (s *StaticUserStore) GetByUsername(ctx context.Context, username string) (*queries.User, error) {
	if username != s.user.Username {
		return nil, queries.ErrUserNotFound
	}
	user := s.user
	return &user, nil
}

type AuthHandler struct {
	users        UserStore
	authService  *auth.Service
	cookieName   string
	cookieSecure bool
}

func NewAuthHandler(users UserStore, authService *auth.Service, cookieName string, cookieSecure bool) *AuthHandler {
	if cookieName == "" {
		cookieName = "auth_token"
	}
	return &AuthHandler{
		users:        users,
		authService:  authService,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"admin"`
	Password string `json:"password" binding:"required" example:"secret"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Username  string `json:"username"`
}

// Login godoc
// @Summary Log in
// @Description Issues a bearer token and sets it as an HTTP-only cookie
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string "Invalid request body"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Failure 503 {object} map[string]string "Login disabled"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	if h.users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login is not configured"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Username = validation.SanitizeString(req.Username)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	user, err := h.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, queries.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		logger.FromContext(c.Request.Context()).WithError(err).Error("User lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	maxAge := int(h.authService.Duration().Seconds())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookieName, token, maxAge, "/", "", h.cookieSecure, true)

	logger.WithField("user", user.Username).Info("Operator logged in")
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: maxAge,
		Username:  user.Username,
	})
}

// Logout godoc
// @Summary Log out
// @Description Clears the token cookie
// @Tags Auth
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.cookieSecure, true)
	c.Status(http.StatusNoContent)
}
