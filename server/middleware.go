package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wailbentafat/debate-relay/auth"
)

const (
	requestIDHeader = "X-Request-ID"
	subjectKey      = "subject"
)

func RequestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.GetHeader(requestIDHeader) == "" {
			ctx.Request.Header.Set(requestIDHeader, uuid.NewString())
		}
		ctx.Header(requestIDHeader, ctx.GetHeader(requestIDHeader))
		ctx.Next()
	}
}

// RequestLogger logs one line per request once it has been served. For
// streams that is when the stream ends.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Info("request",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"duration", time.Since(start),
			"request_id", ctx.GetHeader(requestIDHeader),
		)
	}
}

// RequireToken rejects requests without a valid token. A nil service
// disables the check.
func RequireToken(svc *auth.Service) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if svc == nil {
			ctx.Next()
			return
		}

		token := ctx.Query("token")
		if token == "" {
			if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token not provided"})
			return
		}

		subject, err := svc.Verify(token)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx.Set(subjectKey, subject)
		ctx.Next()
	}
}
