package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/itembox/internal/auth"
	"github.com/hitoshi/itembox/internal/model"
)

// unauthorizedMessage はアクセスガードで拒否した場合のメッセージ。
const unauthorizedMessage = "Unauthorized: Please log in"

// AccessChecker はセッションユーザーと資格情報から通過可否を判定する。
type AccessChecker interface {
	Check(ctx context.Context, sessionUserID, credential string) (auth.Decision, error)
}

// RejectionRecorder はガードによる拒否を記録する。
type RejectionRecorder interface {
	RecordGuardRejection(method string)
}

// NewAccessGuardMiddleware はセッションまたは資格情報を要求するミドルウェアを返す。
// 拒否した場合は401を返し、後続のハンドラーは実行しない。
// recorder が nil の場合は拒否を記録しない。
func NewAccessGuardMiddleware(checker AccessChecker, recorder RejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionUserID string
			if a := AuthFromContext(r.Context()); a.Authenticated {
				sessionUserID = a.User.ID
			}

			decision, err := checker.Check(r.Context(), sessionUserID, auth.CredentialFromRequest(r))
			if err != nil {
				slog.Error("access guard failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !decision.Allowed {
				if recorder != nil {
					recorder.RecordGuardRejection(r.Method)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(unauthorizedMessage))
				return
			}

			ctx := r.Context()
			if decision.UserID != "" {
				ctx = ContextWithUserID(ctx, decision.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
