// Package share mints and resolves signed, expiring share links for
// stored files.
package share

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// Service implements interfaces.ShareService with HS256 tokens backed by
// revocable share records.
type Service struct {
	files  interfaces.FileRepository
	shares interfaces.ShareRepository
	secret []byte
	expiry time.Duration
	logger *common.Logger
}

type shareClaims struct {
	FileID  string `json:"file_id"`
	ShareID string `json:"share_id"`
	jwt.RegisteredClaims
}

// NewService creates the share service. expiry bounds token lifetime.
func NewService(files interfaces.FileRepository, shares interfaces.ShareRepository, secret string, expiry time.Duration, logger *common.Logger) (*Service, error) {
	if secret == "" {
		return nil, fmt.Errorf("share service requires a signing secret")
	}
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Service{
		files:  files,
		shares: shares,
		secret: []byte(secret),
		expiry: expiry,
		logger: logger,
	}, nil
}

// CreateShare mints a share link for a file the caller owns.
func (s *Service) CreateShare(ctx context.Context, fileID, userID string) (*models.ShareLink, error) {
	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UserID != userID {
		return nil, &common.PermanentError{
			Message: "not authorized to share this file",
			Code:    "UNAUTHORIZED",
			Status:  403,
		}
	}
	if file.Status == models.FileStatusDeleted {
		return nil, common.NewPermanentError("cannot share a deleted file", nil)
	}

	now := time.Now()
	link := &models.ShareLink{
		ID:        uuid.New().String(),
		FileID:    fileID,
		UserID:    userID,
		ExpiresAt: now.Add(s.expiry),
		CreatedAt: now,
	}

	claims := shareClaims{
		FileID:  fileID,
		ShareID: link.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(link.ExpiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign share token: %w", err)
	}
	link.Token = token

	if err := s.shares.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to persist share link: %w", err)
	}

	s.logger.Info().
		Str("share_id", link.ID).
		Str("file_id", fileID).
		Str("user_id", userID).
		Time("expires_at", link.ExpiresAt).
		Msg("Share link created")

	return link, nil
}

// ResolveShare validates a token and returns the shared file, rejecting
// expired, revoked, or tampered tokens.
func (s *Service) ResolveShare(ctx context.Context, token string) (*models.FileRecord, error) {
	claims := &shareClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, &common.PermanentError{
			Message: "invalid or expired share token",
			Code:    "UNAUTHORIZED",
			Status:  401,
			Err:     err,
		}
	}

	link, err := s.shares.Get(ctx, claims.ShareID)
	if err != nil {
		return nil, common.NewPermanentError("share link not found", err)
	}
	if link.Revoked {
		return nil, &common.PermanentError{
			Message: "share link has been revoked",
			Code:    "UNAUTHORIZED",
			Status:  401,
		}
	}

	file, err := s.files.Get(ctx, claims.FileID)
	if err != nil {
		return nil, err
	}
	if file.Status == models.FileStatusDeleted {
		return nil, common.NewPermanentError("shared file no longer exists", nil)
	}
	return file, nil
}

// RevokeShare marks a link revoked. Only the creating user may revoke.
func (s *Service) RevokeShare(ctx context.Context, shareID, userID string) error {
	link, err := s.shares.Get(ctx, shareID)
	if err != nil {
		return err
	}
	if link.UserID != userID {
		return &common.PermanentError{
			Message: "not authorized to revoke this share",
			Code:    "UNAUTHORIZED",
			Status:  403,
		}
	}
	if link.Revoked {
		return nil
	}
	link.Revoked = true
	return s.shares.Update(ctx, link)
}
