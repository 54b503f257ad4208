package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"todo-agent/domain"
	"todo-agent/events"
)

const (
	defaultTypesLimit   = 10
	maxTypesLimit       = 50
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

type activityResponse struct {
	Activity []events.ActivityEntry `json:"activity"`
}

type typesResponse struct {
	Types []events.TypeCount `json:"types"`
}

// boundedInt reads an optional query parameter and rejects values outside [lo, hi].
func boundedInt(c echo.Context, name string, def, lo, hi int) (int, error) {
	v, err := queryInt(c, name, def)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, &domain.ValidationError{Field: name, Message: "must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi)}
	}
	return v, nil
}

func listActivity(activity ActivityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _, err := pageParams(c)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}
		entries, err := activity.Recent(c.Request().Context(), ownerOf(c), limit)
		if err != nil {
			return writeError(c, "activity", err)
		}
		return c.JSON(http.StatusOK, activityResponse{Activity: entries})
	}
}

func productivity(activity ActivityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		days, err := boundedInt(c, "days", events.DefaultProductivityDays, 1, events.MaxProductivityDays)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}
		summary, err := activity.Productivity(c.Request().Context(), ownerOf(c), days, time.Now())
		if err != nil {
			return writeError(c, "activity", err)
		}
		return c.JSON(http.StatusOK, summary)
	}
}

func activityTypes(activity ActivityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, err := boundedInt(c, "limit", defaultTypesLimit, 1, maxTypesLimit)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}
		counts, err := activity.TypeCounts(c.Request().Context(), ownerOf(c), limit)
		if err != nil {
			return writeError(c, "activity", err)
		}
		return c.JSON(http.StatusOK, typesResponse{Types: counts})
	}
}

func taskHistory(activity ActivityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, err := boundedInt(c, "limit", defaultHistoryLimit, 1, maxHistoryLimit)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}
		entries, err := activity.TaskHistory(c.Request().Context(), ownerOf(c), c.Param("id"), limit)
		if err != nil {
			return writeError(c, "activity", err)
		}
		return c.JSON(http.StatusOK, activityResponse{Activity: entries})
	}
}
