package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": s.gw.ListModels()})
}

func (s *Server) chatCompletions(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := s.gw.CreateChatCompletion(c.Request.Context(), gatewayRequest(c, raw))
	if err != nil {
		writeError(c, err)
		return
	}
	serveResult(c, res)
}

func (s *Server) completions(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := s.gw.CreateCompletion(c.Request.Context(), gatewayRequest(c, raw))
	if err != nil {
		writeError(c, err)
		return
	}
	serveResult(c, res)
}
