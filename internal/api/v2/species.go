// internal/api/v2/species.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/seawatch/seawatch-go/internal/errors"
)

// GetSpeciesImage returns cached imagery for a species, fetching it from
// the catalog on a cache miss.
func (c *Controller) GetSpeciesImage(ctx echo.Context) error {
	if c.Images == nil {
		return c.HandleError(ctx,
			errors.Newf("species enrichment is not configured").
				Component("api").
				Category(errors.CategoryState).
				Build(),
			"enrichment unavailable", http.StatusServiceUnavailable)
	}

	name := ctx.QueryParam("name")
	if name == "" {
		return c.HandleError(ctx,
			errors.Newf("name query parameter is required").
				Component("api").
				Category(errors.CategoryValidation).
				Build(),
			"missing name parameter", http.StatusBadRequest)
	}

	img, err := c.Images.Get(ctx.Request().Context(), name)
	if err != nil {
		return c.HandleError(ctx, err, "species image lookup failed", http.StatusBadGateway)
	}
	return ctx.JSON(http.StatusOK, &img)
}
