package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-agent/domain"
)

const maxBodySize = 64 << 10

type tasksResponse struct {
	Tasks  []domain.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// decodeBody reads a JSON body with the same limits for every route.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid JSON body"}
	}
	return nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

// queryList accepts both repeated parameters and comma separated values.
func queryList(c echo.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func parseTaskQuery(c echo.Context) (domain.TaskQuery, error) {
	status, err := domain.ParseStatusFilter(c.QueryParam("status"))
	if err != nil {
		return domain.TaskQuery{}, err
	}
	q := domain.TaskQuery{
		Status: status,
		Tags:   queryList(c, "tag"),
		Search: c.QueryParam("search"),
		SortBy: strings.TrimSpace(c.QueryParam("sort_by")),
	}
	for _, raw := range queryList(c, "priority") {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return domain.TaskQuery{}, err
		}
		q.Priorities = append(q.Priorities, p)
	}
	switch strings.ToLower(strings.TrimSpace(c.QueryParam("sort_order"))) {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return domain.TaskQuery{}, &domain.ValidationError{Field: "sort_order", Message: "must be asc or desc"}
	}
	if q.Limit, err = queryInt(c, "limit", domain.DefaultPageSize); err != nil {
		return domain.TaskQuery{}, err
	}
	if q.Offset, err = queryInt(c, "offset", 0); err != nil {
		return domain.TaskQuery{}, err
	}
	if err := q.Normalize(); err != nil {
		return domain.TaskQuery{}, err
	}
	return q, nil
}

func listTasks(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		q, err := parseTaskQuery(c)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}

		start := time.Now()
		tasks, total, err := svc.Query(c.Request().Context(), ownerOf(c), q)
		m.Observe("store", time.Since(start))
		if err != nil {
			return writeError(c, "store", err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		m.SetInt("tasks_returned", len(tasks))
		m.SetBool("has_next_page", q.Offset+len(tasks) < total)
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Total: total, Limit: q.Limit, Offset: q.Offset})
	}
}

// createTask honours the Idempotency-Key header: a key seen before for the same owner is
// rejected with 409, and a failed create releases its key.
func createTask(svc TaskService, dedup Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		owner := ownerOf(c)

		var in domain.TaskInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, "invalid_body", err)
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" && dedup != nil {
			added, err := dedup.Add(ctx, owner, key)
			switch {
			case err != nil:
				logger.Warnf("idempotency check skipped: %v", err)
				key = ""
			case !added:
				return writeError(c, "duplicate", errDuplicate)
			}
		} else {
			key = ""
		}

		start := time.Now()
		task, err := svc.Create(ctx, owner, in)
		metricsFrom(c).Observe("store", time.Since(start))
		if err != nil {
			if key != "" {
				if rmErr := dedup.Remove(ctx, owner, key); rmErr != nil {
					logger.Warnf("release idempotency key: %v", rmErr)
				}
			}
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := svc.Get(c.Request().Context(), ownerOf(c), c.Param("id"))
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func replaceTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.TaskInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, "invalid_body", err)
		}
		task, err := svc.Replace(c.Request().Context(), ownerOf(c), c.Param("id"), in)
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func patchTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return writeError(c, "invalid_body", err)
		}
		task, err := svc.Patch(c.Request().Context(), ownerOf(c), c.Param("id"), patch)
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func toggleTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := svc.Toggle(c.Request().Context(), ownerOf(c), c.Param("id"))
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := svc.Delete(c.Request().Context(), ownerOf(c), c.Param("id")); err != nil {
			return writeError(c, "store", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
