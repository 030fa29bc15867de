package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cvforge/auth-api/internal/application"
	"github.com/cvforge/auth-api/pkg/helpers"
	"github.com/cvforge/auth-api/pkg/response"
	"github.com/cvforge/auth-api/pkg/validation"
)

// AuthHandler exposes the public auth surface: register, verify-email,
// resend verification, login, upload-image and refresh.
type AuthHandler struct {
	Svc     *application.Service
	Logger  *logrus.Logger
	Cookies *helpers.Manager
}

func NewAuthHandler(svc *application.Service, logger *logrus.Logger, cookieDomain string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{Svc: svc, Logger: logger, Cookies: helpers.NewCookie(cookieDomain, cookieSecure)}
}

type registerRequest struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,pwd"`
	ProfileImageURL string `json:"profile_image_url" binding:"omitempty,url"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type resendVerificationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func clientIP(c *gin.Context) string {
	if ip := c.GetString("real_ip"); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// Register POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	u, emailQueued, err := h.Svc.Register(c.Request.Context(), application.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		if errors.Is(err, application.ErrEmailExists) {
			response.Error[any](c, http.StatusConflict, "user already exists with this email", nil)
			return
		}
		h.Logger.WithError(err).Error("register failed")
		response.Error[any](c, http.StatusInternalServerError, "registration failed", nil)
		return
	}

	response.Success(c, http.StatusCreated, u.ToPublic(), "user registered",
		map[string]any{"email_queued": emailQueued})
}

// VerifyEmail GET /api/auth/verify-email?token=...
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error[any](c, http.StatusBadRequest, "token query parameter is required", nil)
		return
	}

	if err := h.Svc.VerifyEmail(c.Request.Context(), token); err != nil {
		switch {
		case errors.Is(err, application.ErrTokenInvalid):
			response.Error[any](c, http.StatusNotFound, "invalid verification token", nil)
		case errors.Is(err, application.ErrTokenExpired):
			response.Error[any](c, http.StatusBadRequest, "verification token has expired, please request a new one", nil)
		default:
			h.Logger.WithError(err).Error("verify email failed")
			response.Error[any](c, http.StatusInternalServerError, "verification failed", nil)
		}
		return
	}

	response.Success[any](c, http.StatusOK, gin.H{"message": "Email verified successfully"}, "email verified", nil)
}

// ResendVerification POST /api/auth/verify/resend
// Unknown, already-verified and unverified addresses all get the same
// response, so the endpoint cannot be used to enumerate accounts.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req resendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	_, err := h.Svc.ResendVerification(c.Request.Context(), req.Email)
	if err != nil &&
		!errors.Is(err, application.ErrUserNotFound) &&
		!errors.Is(err, application.ErrAlreadyVerified) {
		h.Logger.WithError(err).Error("resend verification failed")
		response.Error[any](c, http.StatusInternalServerError, "failed to resend verification email", nil)
		return
	}

	response.Success[any](c, http.StatusOK,
		gin.H{"message": "If the account exists and is not yet verified, a verification email has been sent"},
		"verification email requested", nil)
}

// Login POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}

	meta := application.RequestMeta{IP: clientIP(c), UserAgent: c.GetHeader("User-Agent")}
	u, pair, err := h.Svc.Login(c.Request.Context(), req.Email, req.Password, meta)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrEmailNotVerified):
			response.Error[any](c, http.StatusForbidden, "please verify your email before logging in", nil)
		case errors.Is(err, application.ErrInvalidCredentials):
			response.Error[any](c, http.StatusUnauthorized, "invalid email or password", nil)
		default:
			h.Logger.WithError(err).Error("login failed")
			response.Error[any](c, http.StatusInternalServerError, "login failed", nil)
		}
		return
	}

	h.Cookies.SetPair(c, pair.AccessToken, pair.AccessTokenExpiry, pair.RefreshToken, pair.RefreshTokenExpiry)
	response.Success(c, http.StatusOK, gin.H{
		"user":  u.ToPublic(),
		"token": pair.AccessToken,
	}, "login successful", map[string]any{
		"access_expires_at":  pair.AccessTokenExpiry,
		"refresh_expires_at": pair.RefreshTokenExpiry,
	})
}

// UploadImage POST /api/auth/upload-image (multipart field "image")
func (h *AuthHandler) UploadImage(c *gin.Context) {
	fh, err := c.FormFile("image")
	if err != nil {
		response.Error[any](c, http.StatusBadRequest, "image file is required", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error[any](c, http.StatusBadRequest, "unable to read image", nil)
		return
	}
	defer func() { _ = f.Close() }()

	url, err := h.Svc.UploadImage(c.Request.Context(), f, fh.Size, fh.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, application.ErrMissingFile),
			errors.Is(err, application.ErrFileTooLarge),
			errors.Is(err, application.ErrBadContentType):
			response.Error[any](c, http.StatusBadRequest, err.Error(), nil)
		default:
			h.Logger.WithError(err).Error("image upload failed")
			response.Error[any](c, http.StatusInternalServerError, "image upload failed", nil)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"url": url}, "image uploaded", nil)
}

// Refresh POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	refresh, err := c.Cookie("refresh_token")
	if err != nil || refresh == "" {
		response.Error[any](c, http.StatusUnauthorized, "missing refresh token", nil)
		return
	}
	pair, _, err := h.Svc.Refresh(c.Request.Context(), refresh)
	if err != nil {
		response.Error[any](c, http.StatusUnauthorized, "invalid refresh token", nil)
		return
	}
	h.Cookies.SetPair(c, pair.AccessToken, pair.AccessTokenExpiry, pair.RefreshToken, pair.RefreshTokenExpiry)
	response.Success[any](c, http.StatusOK, gin.H{"refreshed": true}, "token refreshed", map[string]any{
		"access_expires_at":  pair.AccessTokenExpiry,
		"refresh_expires_at": pair.RefreshTokenExpiry,
	})
}
