package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) createResponse(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		jsonError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := s.gw.CreateResponse(c.Request.Context(), gatewayRequest(c, raw))
	if err != nil {
		writeError(c, err)
		return
	}
	serveResult(c, res)
}

func (s *Server) getResponse(c *gin.Context) {
	obj, err := s.gw.GetResponse(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", obj)
}
