package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/94nj111/library-service/api/responses"
	"github.com/94nj111/library-service/api/validators"
	pkgAuth "github.com/94nj111/library-service/pkg/auth"
	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/logger"
)

type devTokenRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Email  string `json:"email" validate:"omitempty,email"`
	Role   string `json:"role" validate:"required,oneof=admin user"`
}

type devTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

// DevMintToken issues a signed JWT for local testing. Identity management
// lives outside this service, so the route is only mounted off prod.
func DevMintToken(cfg *config.Config, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req devTokenRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}
		role := enums.UserRole(req.Role)
		if !role.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid role"))
			return
		}

		now := time.Now()
		token, err := pkgAuth.MintAccessToken(cfg.JWT, now, pkgAuth.AccessTokenPayload{
			UserID: userID,
			Email:  req.Email,
			Role:   role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint token"))
			return
		}

		expiry := now.Add(time.Duration(cfg.JWT.ExpirationMinutes) * time.Minute)
		responses.WriteSuccessStatus(w, http.StatusCreated, devTokenResponse{
			AccessToken: token,
			ExpiresAt:   expiry.Format(time.RFC3339),
		})
	}
}
