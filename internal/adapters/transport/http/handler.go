package http

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Zydiag/learn-backend/internal/adapters/transport/http/dto"
	"github.com/Zydiag/learn-backend/internal/adapters/transport/http/middleware"
	"github.com/Zydiag/learn-backend/internal/app/auth/service"
	customErrors "github.com/Zydiag/learn-backend/internal/domain/user/errors"
	"github.com/Zydiag/learn-backend/internal/domain/user/model"
	"github.com/Zydiag/learn-backend/internal/infra/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const RefreshTokenCookie = "refreshToken"

type Handler struct {
	svc service.Service
	cfg *config.Config
	log *zap.Logger
}

func NewHandler(svc service.Service, cfg *config.Config, log *zap.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log}
}

func (h *Handler) Routes(r *gin.Engine) {
	users := r.Group("/api/v1/users")
	users.POST("/register", h.Register)
	users.POST("/login", h.Login)
	users.POST("/refresh-token", h.Refresh)

	secured := users.Group("", middleware.Authenticate(h.svc))
	secured.POST("/logout", h.Logout)
	secured.POST("/change-password", h.ChangePassword)
	secured.GET("/current-user", h.CurrentUser)
	secured.PATCH("/update-details", h.UpdateAccount)
	secured.PATCH("/avatar", h.UpdateAvatar)
	secured.PATCH("/cover-image", h.UpdateCoverImage)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})
}

func (h *Handler) issueTokens(c *gin.Context, pair model.TokenPair, user any) {
	// Access
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		middleware.AccessTokenCookie,
		pair.AccessToken,
		int(pair.AccessTTL.Seconds()),
		"/",
		h.cfg.CookieDomain,
		true, // secure
		true, // httpOnly
	)

	// Refresh
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		RefreshTokenCookie,
		pair.RefreshToken,
		int(pair.RefreshTTL.Seconds()),
		"/",
		h.cfg.CookieDomain,
		true,
		true,
	)

	body := gin.H{
		// tokens are echoed for non-cookie clients; the stored user record
		// itself is never returned unsanitized
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    int(pair.AccessTTL.Seconds()),
	}
	if user != nil {
		body["user"] = user
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) clearTokens(c *gin.Context) {
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", h.cfg.CookieDomain, true, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", h.cfg.CookieDomain, true, true)
}

// saveUpload writes a multipart file to a temp path for the uploader.
// The handler is responsible for cleanup once the service returns.
func (h *Handler) saveUpload(c *gin.Context, field string) (string, bool, error) {
	file, err := c.FormFile(field)
	if err != nil {
		return "", false, nil
	}
	localPath := filepath.Join(os.TempDir(), uuid.NewString()+"-"+filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, localPath); err != nil {
		return "", false, err
	}
	return localPath, true, nil
}

func (h *Handler) Register(c *gin.Context) {
	var body dto.RegisterDTO
	if err := c.ShouldBind(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	avatarPath, ok, err := h.saveUpload(c, "avatar")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar is required"})
		return
	}
	defer os.Remove(avatarPath)
	body.AvatarLocalPath = avatarPath

	if coverPath, ok, err := h.saveUpload(c, "coverImage"); err == nil && ok {
		defer os.Remove(coverPath)
		body.CoverImageLocalPath = coverPath
	}

	user, err := h.svc.Register(c.Request.Context(), body)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) Login(c *gin.Context) {
	var body dto.LoginDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, user, err := h.svc.Login(c.Request.Context(), body)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.issueTokens(c, pair, user)
}

func (h *Handler) Refresh(c *gin.Context) {
	presented, _ := c.Cookie(RefreshTokenCookie)
	if presented == "" {
		// fallback для клиентов без cookie
		var body dto.RefreshDTO
		if err := c.ShouldBindJSON(&body); err == nil {
			presented = body.RefreshToken
		}
	}

	pair, err := h.svc.Refresh(c.Request.Context(), presented)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.issueTokens(c, pair, nil)
}

func (h *Handler) Logout(c *gin.Context) {
	user, ok := middleware.Identity(c)
	if !ok {
		h.handleError(c, customErrors.ErrUnauthenticated)
		return
	}

	var jti string
	var exp time.Time
	if claims, ok := middleware.Claims(c); ok {
		jti = claims.ID
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
	}

	if err := h.svc.Logout(c.Request.Context(), user.ID, jti, exp); err != nil {
		h.handleError(c, err)
		return
	}
	h.clearTokens(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	user, ok := middleware.Identity(c)
	if !ok {
		h.handleError(c, customErrors.ErrUnauthenticated)
		return
	}

	var body dto.ChangePasswordDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.ChangePassword(c.Request.Context(), user.ID, body); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h *Handler) CurrentUser(c *gin.Context) {
	user, ok := middleware.Identity(c)
	if !ok {
		h.handleError(c, customErrors.ErrUnauthenticated)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user.Public()})
}

func (h *Handler) UpdateAccount(c *gin.Context) {
	user, ok := middleware.Identity(c)
	if !ok {
		h.handleError(c, customErrors.ErrUnauthenticated)
		return
	}

	var body dto.UpdateAccountDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.svc.UpdateAccount(c.Request.Context(), user.ID, body)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": updated})
}

func (h *Handler) UpdateAvatar(c *gin.Context) {
	h.updateImage(c, "avatar", h.svc.UpdateAvatar)
}

func (h *Handler) UpdateCoverImage(c *gin.Context) {
	h.updateImage(c, "coverImage", h.svc.UpdateCoverImage)
}

func (h *Handler) updateImage(
	c *gin.Context,
	field string,
	update func(ctx context.Context, id uuid.UUID, localPath string) (model.PublicUser, error),
) {
	user, ok := middleware.Identity(c)
	if !ok {
		h.handleError(c, customErrors.ErrUnauthenticated)
		return
	}

	localPath, ok, err := h.saveUpload(c, field)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " is required"})
		return
	}
	defer os.Remove(localPath)

	updated, err := update(c.Request.Context(), user.ID, localPath)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": updated})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case customErrors.IsInvalidArgument(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case customErrors.IsInvalidCredentials(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case customErrors.IsTokenReuse(err):
		// replay or stale chain: клиент обязан заново залогиниться
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token expired or used"})
	case customErrors.IsInvalidToken(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case customErrors.IsUnauthenticated(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case customErrors.IsAlreadyExists(err):
		c.JSON(http.StatusConflict, gin.H{"error": "email or username already exists"})
	case customErrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error("unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
