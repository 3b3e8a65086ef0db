package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/gateway"
	"github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/respstore"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/upstream"
)

// loginHint is surfaced whenever a request cannot obtain credentials.
const loginHint = "Missing ChatGPT credentials. Run 'chatmock login' first."

// gatewayRequest packages the raw body with the headers the gateway reads:
// an optional client session id and the user agent for compat detection.
func gatewayRequest(c *gin.Context, raw []byte) gateway.Request {
	sessionID := c.GetHeader("X-Session-Id")
	if sessionID == "" {
		sessionID = c.GetHeader("session_id")
	}
	return gateway.Request{Raw: raw, SessionID: sessionID, UserAgent: c.Request.UserAgent()}
}

func jsonError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message}})
}

// writeError maps gateway errors onto the OpenAI error envelope.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		// Client went away; there is nobody to answer.
		c.Abort()
		return
	}
	var me *translator.MalformedError
	if errors.As(err, &me) {
		body := gin.H{"message": me.Reason}
		if me.Code != "" {
			body["code"] = me.Code
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": body})
		return
	}
	if errors.Is(err, auth.ErrNoCredentials) || errors.Is(err, auth.ErrReauthRequired) {
		jsonError(c, http.StatusUnauthorized, loginHint)
		return
	}
	var te *auth.TransientError
	if errors.As(err, &te) {
		jsonError(c, http.StatusServiceUnavailable, "Token refresh failed, try again shortly")
		return
	}
	if errors.Is(err, upstream.ErrCircuitOpen) {
		jsonError(c, http.StatusServiceUnavailable, "Upstream temporarily unavailable")
		return
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		jsonError(c, ue.StatusCode, ue.Message())
		return
	}
	if errors.Is(err, respstore.ErrNotFound) {
		jsonError(c, http.StatusNotFound, "Not found")
		return
	}
	logging.WithError(err).Error("Request failed")
	jsonError(c, http.StatusInternalServerError, "Internal server error")
}

// serveResult writes an aggregated body, or streams frames with a flush per
// chunk until the producer closes the channel or the client goes away. The
// request context is cancelled when this handler returns, which stops the
// producer on the early-exit paths.
func serveResult(c *gin.Context, res *gateway.Result) {
	if res.Stream == nil {
		c.Data(http.StatusOK, "application/json", res.Body)
		return
	}

	st := res.Stream
	status := st.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	c.Header("Content-Type", st.ContentType)
	if strings.HasPrefix(st.ContentType, "text/event-stream") {
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
	}
	c.Status(status)

	for chunk := range st.Frames {
		if chunk.Err != nil {
			logging.WithError(chunk.Err).Debug("Stream produced an error chunk")
			break
		}
		if len(chunk.Data) == 0 {
			continue
		}
		if _, err := c.Writer.Write(chunk.Data); err != nil {
			logging.WithError(err).Debug("Client write failed, dropping stream")
			break
		}
		c.Writer.Flush()
	}
}

// readBody slurps the request body. The inference surfaces accept arbitrary
// client JSON, so no size cap is imposed, same as the original gateway.
func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(c.Request.Body)
}
