package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/auth"
	"github.com/yaananth/chatmock/internal/gateway"
	"github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/upstream"
)

// Ollama clients probe the root path for this exact banner.
const ollamaBanner = "Ollama is running"

func (s *Server) ollamaRoot(c *gin.Context) {
	c.String(http.StatusOK, ollamaBanner)
}

func (s *Server) ollamaTags(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.OllamaTags())
}

func (s *Server) ollamaVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.gw.OllamaVersion()})
}

func (s *Server) ollamaChat(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.gw.OllamaChat(c.Request.Context(), gatewayRequest(c, raw))
	if err != nil {
		ollamaError(c, err)
		return
	}
	serveResult(c, res)
}

func (s *Server) ollamaGenerate(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.gw.OllamaGenerate(c.Request.Context(), gatewayRequest(c, raw))
	if err != nil {
		ollamaError(c, err)
		return
	}
	serveResult(c, res)
}

func (s *Server) ollamaShow(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	show, err := s.gw.OllamaShow(raw)
	if err != nil {
		if errors.Is(err, gateway.ErrUnknownModel) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model '%s' not found", requestedModel(raw))})
			return
		}
		ollamaError(c, err)
		return
	}
	c.JSON(http.StatusOK, show)
}

func requestedModel(raw []byte) string {
	body := gjson.ParseBytes(raw)
	name := strings.TrimSpace(body.Get("name").String())
	if name == "" {
		name = strings.TrimSpace(body.Get("model").String())
	}
	return name
}

// ollamaError writes the flat {"error": "..."} shape Ollama clients parse.
func ollamaError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) {
		c.Abort()
		return
	}
	var me *translator.MalformedError
	if errors.As(err, &me) {
		c.JSON(http.StatusBadRequest, gin.H{"error": me.Reason})
		return
	}
	if errors.Is(err, auth.ErrNoCredentials) || errors.Is(err, auth.ErrReauthRequired) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": loginHint})
		return
	}
	if errors.Is(err, upstream.ErrCircuitOpen) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream temporarily unavailable"})
		return
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		c.JSON(ue.StatusCode, gin.H{"error": ue.Message()})
		return
	}
	logging.WithError(err).Error("Ollama request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
