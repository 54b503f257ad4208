package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"todo-agent/domain"
)

type recurrencesResponse struct {
	Recurrences []domain.Recurrence `json:"recurrences"`
}

func listRecurrences(svc RecurrenceService) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _, err := pageParams(c)
		if err != nil {
			return writeError(c, "invalid_query", err)
		}
		out, err := svc.Recurrences(c.Request().Context(), ownerOf(c), limit)
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, recurrencesResponse{Recurrences: out})
	}
}

func createRecurrence(svc RecurrenceService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.RecurrenceInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, "invalid_body", err)
		}
		r, err := svc.CreateRecurrence(c.Request().Context(), ownerOf(c), in)
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusCreated, r)
	}
}

func getRecurrence(svc RecurrenceService) echo.HandlerFunc {
	return func(c echo.Context) error {
		r, err := svc.Recurrence(c.Request().Context(), ownerOf(c), c.Param("id"))
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, r)
	}
}

func deleteRecurrence(svc RecurrenceService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.DeleteRecurrence(c.Request().Context(), ownerOf(c), c.Param("id")); err != nil {
			return writeError(c, "store", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
