package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

func (s *Server) parseSubtaskID(c *echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "invalid subtask id", "invalid_input"))
	}
	return id, nil
}

type ratingRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) setRatingHandler(c *echo.Context) error {
	id, err := s.parseSubtaskID(c)
	if err != nil {
		return err
	}
	var req ratingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "malformed request body", "invalid_input"))
	}
	if svcErr := s.subtasks.SetRating(c.Request().Context(), id, req.Rating); svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{"id": id, "rating": req.Rating}))
}

type evaluationRequest struct {
	Note string `json:"note"`
}

func (s *Server) addEvaluationHandler(c *echo.Context) error {
	id, err := s.parseSubtaskID(c)
	if err != nil {
		return err
	}
	var req evaluationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "malformed request body", "invalid_input"))
	}
	if svcErr := s.subtasks.AddEvaluation(c.Request().Context(), id, req.Note); svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{"id": id}))
}

func (s *Server) removeEvaluationHandler(c *echo.Context) error {
	id, err := s.parseSubtaskID(c)
	if err != nil {
		return err
	}
	index, parseErr := strconv.Atoi(c.Param("index"))
	if parseErr != nil {
		return c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "invalid evaluation index", "invalid_input"))
	}
	if svcErr := s.subtasks.RemoveEvaluation(c.Request().Context(), id, index); svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{"id": id}))
}
