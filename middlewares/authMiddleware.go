package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/sirupsen/logrus"
)

// GinKeyCredentialPrefix holds the display prefix of the authenticated key.
const GinKeyCredentialPrefix = "credential_prefix"

const credentialTouchInterval = time.Minute

// CredentialStore resolves bearer keys to terminals.
type CredentialStore interface {
	FindCredentialByHash(ctx context.Context, keyHash string) (*models.TerminalCredential, error)
	TouchCredential(ctx context.Context, id uint, at time.Time) error
	GetTerminal(ctx context.Context, terminalId string) (*models.Terminal, error)
}

// TerminalAuth requires "Authorization: Bearer <key>" and resolves it to an
// unrevoked credential by sha256 hash. Requests are rejected with 401 before
// the handler runs. The request context carries the school id, and the
// terminal id for terminal-bound keys.
func TerminalAuth(store CredentialStore, timeout time.Duration, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		cred, err := store.FindCredentialByHash(ctx, utils.HashAPIKey(rawKey))
		if err != nil {
			if !errors.Is(err, models.ErrCredentialNotFound) {
				config.LogError(logger, "middlewares", "TerminalAuth", "FindCredentialByHash", nil, err)
			}
			unauthorized(c)
			return
		}
		schoolId := cred.SchoolId
		if !cred.IsGateway() {
			terminal, err := store.GetTerminal(ctx, cred.TerminalId)
			if err != nil {
				if !errors.Is(err, models.ErrTerminalNotFound) {
					config.LogError(logger, "middlewares", "TerminalAuth", "GetTerminal", cred.TerminalId, err)
				}
				unauthorized(c)
				return
			}
			schoolId = terminal.SchoolId
		}

		now := time.Now().UTC()
		if cred.LastUsedAt == nil || now.Sub(*cred.LastUsedAt) > credentialTouchInterval {
			if err := store.TouchCredential(ctx, cred.ID, now); err != nil {
				config.LogError(logger, "middlewares", "TerminalAuth", "TouchCredential", cred.ID, err)
			}
		}

		reqCtx := utils.SetSchoolIdInContext(c.Request.Context(), schoolId)
		reqCtx = utils.SetCredentialIdInContext(reqCtx, cred.ID)
		if !cred.IsGateway() {
			reqCtx = utils.SetTerminalIdInContext(reqCtx, cred.TerminalId)
		}
		c.Request = c.Request.WithContext(reqCtx)
		c.Set(GinKeyCredentialPrefix, cred.KeyPrefix)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const bearer = "bearer "
	if len(header) <= len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
}
