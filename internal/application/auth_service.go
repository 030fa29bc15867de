package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cvforge/auth-api/config"
	"github.com/cvforge/auth-api/internal/domain/entity"
	repo "github.com/cvforge/auth-api/internal/domain/repository"
	"github.com/cvforge/auth-api/pkg/helpers"
	"github.com/cvforge/auth-api/pkg/mailer"
	tpl "github.com/cvforge/auth-api/pkg/mailer/templates"
)

var (
	// ErrEmailExists mirrors the store's uniqueness rejection.
	ErrEmailExists = repo.ErrEmailExists

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenInvalid       = errors.New("invalid verification token")
	ErrTokenExpired       = errors.New("verification token expired")
	ErrAlreadyVerified    = errors.New("email already verified")

	ErrMissingFile    = errors.New("image file is required")
	ErrFileTooLarge   = errors.New("image exceeds the maximum allowed size")
	ErrBadContentType = errors.New("unsupported image type")
	ErrStoreDisabled  = errors.New("file store not configured")
)

// EmailQueue enqueues email jobs for the worker. *helpers.RabbitPublisher
// satisfies it.
type EmailQueue interface {
	PublishJSON(ctx context.Context, body any) error
}

const verificationTokenBytes = 32

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Service orchestrates registration, email verification, login, profile
// management and image upload.
type Service struct {
	Repo   repo.UserRepository
	JWT    *helpers.JWTManager
	Cfg    *config.Config
	Mail   EmailQueue
	GCS    *storage.Client
	Redis  *redis.Client
	Logger *logrus.Logger
	ES     *elasticsearch.Client
}

func NewService(r repo.UserRepository, jwt *helpers.JWTManager, cfg *config.Config, mail EmailQueue, gcs *storage.Client, rdb *redis.Client, logger *logrus.Logger, es *elasticsearch.Client) *Service {
	return &Service{
		Repo:   r,
		JWT:    jwt,
		Cfg:    cfg,
		Mail:   mail,
		GCS:    gcs,
		Redis:  rdb,
		Logger: logger,
		ES:     es,
	}
}

type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ProfileImageURL string
}

// TokenPair carries the signed tokens issued at login.
type TokenPair struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

// RequestMeta carries per-request context used in notification emails.
type RequestMeta struct {
	IP        string
	UserAgent string
}

func sessionKey(userID string) string {
	return "user:session:" + userID
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Register creates an unverified user and queues the verification email.
// The user is committed regardless of email delivery; the returned bool
// reports whether the email job was queued.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, bool, error) {
	if exists, err := s.Repo.ExistsByEmail(ctx, in.Email); err != nil {
		return nil, false, err
	} else if exists {
		return nil, false, ErrEmailExists
	}

	hash, err := helpers.HashPassword(in.Password)
	if err != nil {
		return nil, false, err
	}
	token, err := helpers.GenerateOpaqueToken(verificationTokenBytes)
	if err != nil {
		return nil, false, err
	}
	expires := time.Now().Add(s.Cfg.VerificationTTL)

	u := &entity.User{
		Name:                in.Name,
		Email:               in.Email,
		Password:            hash,
		ProfileImageURL:     in.ProfileImageURL,
		EmailVerified:       false,
		VerificationToken:   token,
		VerificationExpires: &expires,
		SubscriptionPlan:    "Basic",
	}
	if err := s.Repo.Create(ctx, u); err != nil {
		// A concurrent registration may win the race; the unique index
		// reports it as the same conflict as the pre-check.
		return nil, false, err
	}

	queued := s.queueVerificationEmail(ctx, u)
	s.indexUser(ctx, u)
	return u, queued, nil
}

func (s *Service) queueVerificationEmail(ctx context.Context, u *entity.User) bool {
	if s.Mail == nil || s.Cfg == nil || !s.Cfg.MailSendEnabled {
		return false
	}
	link := s.Cfg.VerifyEmailLink(u.VerificationToken)
	opts := []tpl.Option{tpl.WithTime(time.Now())}
	if u.VerificationExpires != nil {
		opts = append(opts, tpl.WithExpiresAt(*u.VerificationExpires))
	}
	job := mailer.EmailJob{
		To:       u.Email,
		Template: tpl.VerifyEmail,
		Data:     tpl.NewVerifyEmailData(s.Cfg, u.Name, u.Email, link, opts...),
	}
	if err := s.Mail.PublishJSON(ctx, job); err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("email", u.Email).Warn("failed to queue verification email")
		}
		return false
	}
	return true
}

// VerifyEmail consumes a verification token. An expired token is rejected
// but left on the record so a resend can rotate it.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrTokenInvalid
	}
	u, err := s.Repo.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if u.VerificationExpires != nil && u.VerificationExpires.Before(time.Now()) {
		return ErrTokenExpired
	}

	u.EmailVerified = true
	u.VerificationToken = ""
	u.VerificationExpires = nil
	if err := s.Repo.Update(ctx, u); err != nil {
		return err
	}
	s.indexUser(ctx, u)
	return nil
}

// ResendVerification rotates the verification token for a still-unverified
// account and queues a fresh email. It is reachable without a session, since
// an unverified user cannot log in; the handler collapses ErrUserNotFound
// and ErrAlreadyVerified into the same response so the endpoint cannot be
// used to probe which addresses are registered.
func (s *Service) ResendVerification(ctx context.Context, email string) (bool, error) {
	u, err := s.Repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	if u.EmailVerified {
		return false, ErrAlreadyVerified
	}
	token, err := helpers.GenerateOpaqueToken(verificationTokenBytes)
	if err != nil {
		return false, err
	}
	expires := time.Now().Add(s.Cfg.VerificationTTL)
	u.VerificationToken = token
	u.VerificationExpires = &expires
	if err := s.Repo.Update(ctx, u); err != nil {
		return false, err
	}
	return s.queueVerificationEmail(ctx, u), nil
}

// Login validates credentials, requires a verified email, and issues a
// signed token pair. Unknown email and wrong password return the same
// error so callers cannot tell which failed.
func (s *Service) Login(ctx context.Context, email, password string, meta RequestMeta) (*entity.User, TokenPair, error) {
	u, err := s.Repo.GetByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	if !u.EmailVerified {
		return nil, TokenPair{}, ErrEmailNotVerified
	}

	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.queueLoginNotification(ctx, u, meta)
	return u, pair, nil
}

func (s *Service) issueTokens(ctx context.Context, u *entity.User) (TokenPair, error) {
	sid := uuid.NewString()
	access, aexp, err := s.JWT.GenerateAccessToken(u.ID, sid)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rexp, err := s.JWT.GenerateRefreshToken(u.ID, sid)
	if err != nil {
		return TokenPair{}, err
	}

	if s.Redis != nil {
		key := sessionKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			"user_id":    u.ID,
			"email":      u.Email,
			"name":       u.Name,
			"sid":        sid,
			"created_at": nowRFC3339(),
		})
		pipe.Expire(ctx, key, 24*time.Hour)
		if _, rErr := pipe.Exec(ctx); rErr != nil && s.Logger != nil {
			s.Logger.WithError(rErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}

	return TokenPair{AccessToken: access, AccessTokenExpiry: aexp, RefreshToken: refresh, RefreshTokenExpiry: rexp}, nil
}

func (s *Service) queueLoginNotification(ctx context.Context, u *entity.User, meta RequestMeta) {
	if s.Mail == nil || s.Cfg == nil || !s.Cfg.MailSendEnabled {
		return
	}
	job := mailer.EmailJob{
		To:       u.Email,
		Template: tpl.LoginNotification,
		Data: tpl.NewLoginNotificationData(s.Cfg, u.Name, u.Email,
			tpl.WithTime(time.Now()),
			tpl.WithIP(meta.IP),
			tpl.WithUserAgent(meta.UserAgent),
		),
	}
	if err := s.Mail.PublishJSON(ctx, job); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("email", u.Email).Warn("failed to queue login notification")
	}
}

// Refresh rotates the session and token pair from a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, string, error) {
	claims, err := s.JWT.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, "", ErrInvalidCredentials
	}
	u, err := s.Repo.GetByID(ctx, claims.UserID)
	if err != nil || u == nil {
		return TokenPair{}, "", ErrInvalidCredentials
	}
	// The token's session id must match the active session.
	if s.Redis != nil {
		data, rErr := s.Redis.HGetAll(ctx, sessionKey(u.ID)).Result()
		if rErr != nil || len(data) == 0 || data["sid"] != claims.SessionID {
			return TokenPair{}, "", ErrInvalidCredentials
		}
	}
	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return TokenPair{}, "", err
	}
	return pair, u.ID, nil
}

// Logout drops the redis session.
func (s *Service) Logout(ctx context.Context, userID string) {
	if s.Redis != nil && userID != "" {
		if err := s.Redis.Del(ctx, sessionKey(userID)).Err(); err != nil && s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", userID).Warn("failed to drop session")
		}
	}
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil || u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

type UpdateProfileInput struct {
	Name            string
	ProfileImageURL string
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil || u == nil {
		return nil, ErrUserNotFound
	}
	if in.Name != "" {
		u.Name = in.Name
	}
	if in.ProfileImageURL != "" {
		u.ProfileImageURL = in.ProfileImageURL
	}
	if err := s.Repo.Update(ctx, u); err != nil {
		return nil, err
	}

	if s.Redis != nil {
		key := sessionKey(u.ID)
		if err := s.Redis.HSet(ctx, key, map[string]any{
			"name":       u.Name,
			"updated_at": nowRFC3339(),
		}).Err(); err != nil && s.Logger != nil {
			s.Logger.WithError(err).WithField("key", key).Warn("redis hset failed")
		}
	}
	s.indexUser(ctx, u)
	return u, nil
}

// UploadImage validates the payload and stores it in GCS, returning the
// public URL. The caller links the URL to a user afterwards, if at all.
func (s *Service) UploadImage(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	if r == nil || size == 0 {
		return "", ErrMissingFile
	}
	if max := s.Cfg.UploadMaxBytes; max > 0 && size > max {
		return "", ErrFileTooLarge
	}
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return "", ErrBadContentType
	}
	if s.GCS == nil || s.Cfg.GCSBucket == "" {
		return "", ErrStoreDisabled
	}
	objectPath := filepath.ToSlash(filepath.Join("uploads", uuid.NewString()+ext))
	return helpers.UploadObject(ctx, s.GCS, s.Cfg.GCSBucket, objectPath, contentType, r)
}

func (s *Service) indexUser(ctx context.Context, u *entity.User) {
	if s.ES == nil || s.Cfg == nil || s.Cfg.ESUsersIndex == "" {
		return
	}
	doc := map[string]any{
		"id":                u.ID,
		"email":             u.Email,
		"name":              u.Name,
		"email_verified":    u.EmailVerified,
		"subscription_plan": u.SubscriptionPlan,
		"created_at":        u.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":        u.UpdatedAt.Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(doc)
	req := esapi.IndexRequest{Index: s.Cfg.ESUsersIndex, DocumentID: u.ID, Body: strings.NewReader(string(b)), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("es index failed")
		}
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && s.Logger != nil {
		s.Logger.WithField("status", res.Status()).WithField("user_id", u.ID).Warn("es index response error")
	}
}

// SearchUsers performs a multi_match search on email and name.
func (s *Service) SearchUsers(ctx context.Context, q string, size int) ([]map[string]any, error) {
	if s.ES == nil || s.Cfg == nil || s.Cfg.ESUsersIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"email^2", "name"},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(
		s.ES.Search.WithContext(c),
		s.ES.Search.WithIndex(s.Cfg.ESUsersIndex),
		s.ES.Search.WithBody(strings.NewReader(string(b))),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
