package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/talesofai/nietest-orchestrator/pkg/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) loginHandler(c *echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "malformed request body", "invalid_input"))
	}

	token, err := s.issuer.Login(req.Username, req.Password)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errEnvelope(http.StatusUnauthorized, auth.ErrInvalidCredentials.Error(), "unauthorized"))
	}
	return c.JSON(http.StatusOK, ok(loginResponse{Token: token}))
}
