package controllers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/94nj111/library-service/api/middleware"
	"github.com/94nj111/library-service/api/responses"
	"github.com/94nj111/library-service/api/validators"
	"github.com/94nj111/library-service/internal/borrowings"
	"github.com/94nj111/library-service/pkg/enums"
	pkgerrors "github.com/94nj111/library-service/pkg/errors"
	"github.com/94nj111/library-service/pkg/logger"
)

func actorFromContext(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	role := enums.UserRole(middleware.RoleFromContext(r.Context()))
	if !role.IsValid() {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return userID, role, nil
}

// ListBorrowings returns a cursor page of borrowings. Regular members only
// ever see their own rows; staff may filter by user_id and is_active.
func ListBorrowings(svc borrowings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters := borrowings.ListFilters{}
		if filters.IsActive, err = validators.ParseQueryBool(r, "is_active"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filters.UserID, err = validators.ParseQueryUUID(r, "user_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp, err := svc.List(r.Context(), actorID, role, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

func GetBorrowing(svc borrowings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "borrowingId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid borrowing id"))
			return
		}

		resp, err := svc.Get(r.Context(), actorID, role, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

func CreateBorrowing(svc borrowings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input borrowings.CreateBorrowingInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.ActorUserID = actorID
		input.ActorRole = role

		resp, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// ReturnBorrowing closes an active borrowing. When the book comes back
// overdue the row stays open and the client is redirected to open a fine
// checkout session instead.
func ReturnBorrowing(svc borrowings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "borrowingId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid borrowing id"))
			return
		}

		result, err := svc.Return(r.Context(), actorID, role, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if result.FineRequired {
			http.Redirect(w, r, fmt.Sprintf("/api/v1/payments/%s/create-session", id), http.StatusSeeOther)
			return
		}
		responses.WriteSuccess(w, result.Borrowing)
	}
}
