package handler

import (
	"errors"
	"net/http"

	"naberya/internal/app/storage"
	"naberya/internal/pkg/auth/jwt"
	"naberya/internal/pkg/errs"
	"naberya/internal/pkg/logx"
	"naberya/internal/pkg/req"
	"naberya/internal/pkg/resp"
)

// avatarFormField is the multipart field carrying the uploaded image.
const avatarFormField = "avatar"

// HandleGetUserProfile returns the authenticated user's account.
func HandleGetUserProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		u, err := deps.Service.UserByID(r.Context(), identity.ID)
		if err != nil {
			logx.Warn("get_user_profile: user not found", "id", identity.ID)
			resp.RespondError(w, errs.NewError(errs.ErrUnauthorized))
			return
		}

		resp.RespondSuccess(w, map[string]any{"user": u})
	}
}

type PresignAvatarInput struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignAvatar returns a presigned URL the client uploads its avatar to.
func HandlePresignAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input PresignAvatarInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		upload, err := deps.Avatars.Presign(r.Context(), identity.ID, input.FileName, input.MimeType, input.FileSize)
		if err != nil {
			resp.RespondError(w, err)
			return
		}

		resp.RespondSuccess(w, upload)
	}
}

type ConfirmAvatarInput struct {
	Key string `json:"key"`
}

// HandleConfirmAvatar makes a completed presigned upload the user's avatar.
func HandleConfirmAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input ConfirmAvatarInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		url, err := deps.Avatars.Confirm(r.Context(), identity.ID, input.Key)
		if err != nil {
			resp.RespondError(w, err)
			return
		}

		updateAvatar(w, r, deps, url)
	}
}

// HandleUploadAvatar stores a multipart upload and makes it the user's avatar.
func HandleUploadAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		r.Body = http.MaxBytesReader(w, r.Body, storage.MaxAvatarSize+(1<<20))

		file, header, err := r.FormFile(avatarFormField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				resp.RespondError(w, errs.NewError(errs.ErrFileSizeTooLarge, storage.MaxAvatarSizeMB))
				return
			}
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}
		defer file.Close()

		url, err := deps.Avatars.Upload(r.Context(), identity.ID, header.Filename,
			header.Header.Get("Content-Type"), header.Size, file)
		if err != nil {
			resp.RespondError(w, err)
			return
		}

		updateAvatar(w, r, deps, url)
	}
}

// updateAvatar stores url on the account and responds with the user and a fresh token.
func updateAvatar(w http.ResponseWriter, r *http.Request, deps *AppDeps, url string) {
	identity := jwt.GetPayloadFromContext(r)

	u, err := deps.Service.UpdateAvatar(r.Context(), identity.ID, url)
	if err != nil {
		resp.RespondError(w, err)
		return
	}

	logx.Info("Avatar updated", "user_id", u.ID)
	respondWithToken(w, deps, u)
}
