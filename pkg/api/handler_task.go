package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/talesofai/nietest-orchestrator/pkg/auth"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
	"github.com/talesofai/nietest-orchestrator/pkg/store"
)

func (s *Server) submitTaskHandler(c *echo.Context) error {
	var spec models.TaskSpec
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "malformed request body", "invalid_input"))
	}
	spec.UserID = auth.UserFromContext(c)

	task, err := s.tasks.Submit(c.Request().Context(), spec)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, ok(task))
}

func (s *Server) listTasksHandler(c *echo.Context) error {
	filter, page := parseTaskQuery(c)
	tasks, total, err := s.tasks.List(c.Request().Context(), filter, page)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{
		"tasks":     tasks,
		"total":     total,
		"page":      page.Page,
		"page_size": page.PageSize,
	}))
}

func (s *Server) statsTasksHandler(c *echo.Context) error {
	filter, _ := parseTaskQuery(c)
	stats, err := s.tasks.Stats(c.Request().Context(), filter)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(http.StatusOK, ok(stats))
}

func (s *Server) getTaskHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	task, svcErr := s.tasks.Get(c.Request().Context(), id)
	if svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(task))
}

func (s *Server) taskProgressHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	task, svcErr := s.tasks.Get(c.Request().Context(), id)
	if svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{
		"status":             task.Status,
		"processed_images":   task.ProcessedImages,
		"total_images":       task.TotalImages,
		"progress":           task.Progress,
		"completed_subtasks": task.CompletedSubtasks,
		"failed_subtasks":    task.FailedSubtasks,
	}))
}

func (s *Server) cancelTaskHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	if svcErr := s.tasks.Cancel(c.Request().Context(), id); svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{"id": id, "status": models.TaskCancelled}))
}

func (s *Server) favoriteTaskHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	fav, svcErr := s.tasks.SetFavorite(c.Request().Context(), id)
	if svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{"id": id, "is_favorite": fav}))
}

func (s *Server) deleteTaskHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	deleted, svcErr := s.tasks.SetDeleted(c.Request().Context(), id)
	if svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(map[string]any{"id": id, "is_deleted": deleted}))
}

func (s *Server) taskMatrixHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	m, svcErr := s.tasks.Matrix(c.Request().Context(), id)
	if svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(m))
}

func (s *Server) reuseConfigHandler(c *echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}
	spec, svcErr := s.tasks.ReuseConfig(c.Request().Context(), id)
	if svcErr != nil {
		return respondErr(c, svcErr)
	}
	return c.JSON(http.StatusOK, ok(spec))
}

func parseTaskID(c *echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, c.JSON(http.StatusBadRequest, errEnvelope(http.StatusBadRequest, "invalid task id", "invalid_input"))
	}
	return id, nil
}

func parseTaskQuery(c *echo.Context) (store.TaskFilter, store.Page) {
	var f store.TaskFilter
	f.Status = models.TaskStatus(c.QueryParam("status"))
	f.UserID = c.QueryParam("user_id")
	f.TaskName = c.QueryParam("name")
	if v := c.QueryParam("favorite"); v != "" {
		b := v == "true"
		f.Favorite = &b
	}
	if v := c.QueryParam("deleted"); v != "" {
		b := v == "true"
		f.Deleted = &b
	}
	if v, err := strconv.Atoi(c.QueryParam("min_subtasks")); err == nil {
		f.MinSubtasks = &v
	}
	if v, err := strconv.Atoi(c.QueryParam("max_subtasks")); err == nil {
		f.MaxSubtasks = &v
	}
	if v, err := time.Parse(time.RFC3339, c.QueryParam("start_date")); err == nil {
		f.StartDate = &v
	}
	if v, err := time.Parse(time.RFC3339, c.QueryParam("end_date")); err == nil {
		f.EndDate = &v
	}

	page := store.Page{Page: 1, PageSize: 20}
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		page.Page = v
	}
	if v, err := strconv.Atoi(c.QueryParam("page_size")); err == nil && v > 0 {
		page.PageSize = v
	}
	return f, page
}
