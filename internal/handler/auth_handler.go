/*
Package handler provides HTTP handler functions for user authentication and management.
*/
package handler

import (
	"net/http"
	"time"

	"naberya/internal/app/user"
	"naberya/internal/pkg/auth/jwt"
	"naberya/internal/pkg/errs"
	"naberya/internal/pkg/logx"
	"naberya/internal/pkg/req"
	"naberya/internal/pkg/resp"
)

type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      user.User `json:"user"`
}

// HandleRegister creates an account and issues a session token.
func HandleRegister(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			resp.RespondError(w, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		u, err := deps.Service.Register(r.Context(), input.Username, input.Password)
		if err != nil {
			resp.RespondError(w, err)
			return
		}

		respondWithToken(w, deps, u)
	}
}

// HandleLogin verifies credentials and issues a session token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if identity := jwt.GetPayloadFromContext(r); identity != nil {
			resp.RespondError(w, errs.NewError(errs.ErrAlreadyLoggedIn))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		u, err := deps.Service.Login(r.Context(), input.Username, input.Password)
		if err != nil {
			logx.Warn("login: rejected", "username", input.Username)
			resp.RespondError(w, err)
			return
		}

		respondWithToken(w, deps, u)
	}
}

func respondWithToken(w http.ResponseWriter, deps *AppDeps, u user.User) {
	token, expiresAt, err := jwt.GenerateToken(&jwt.Payload{
		ID:       u.ID,
		Username: u.Username,
		Avatar:   u.Avatar,
	}, deps.Config.JWTSecret, jwt.SessionExpiration)
	if err != nil {
		logx.Error(err, "failed to generate token", "user_id", u.ID)
		resp.RespondError(w, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		User:      u,
	})
}
