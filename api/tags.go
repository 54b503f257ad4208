package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"todo-agent/domain"
)

type tagsResponse struct {
	Tags []domain.Tag `json:"tags"`
}

func listTags(svc TagService) echo.HandlerFunc {
	return func(c echo.Context) error {
		tags, err := svc.Tags(c.Request().Context(), ownerOf(c))
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusOK, tagsResponse{Tags: tags})
	}
}

func createTag(svc TagService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.TagInput
		if err := decodeBody(c, &in); err != nil {
			return writeError(c, "invalid_body", err)
		}
		tag, err := svc.CreateTag(c.Request().Context(), ownerOf(c), in)
		if err != nil {
			return writeError(c, "store", err)
		}
		return c.JSON(http.StatusCreated, tag)
	}
}

// deleteTag strips the tag from every task; unknown names are 404.
func deleteTag(svc TagService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := svc.DeleteTag(c.Request().Context(), ownerOf(c), c.Param("name")); err != nil {
			return writeError(c, "store", err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
