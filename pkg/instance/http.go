package instance

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/registry"
)

// Register the status, runs, processes and metrics endpoints.
func NewHttpHandler(i *Instance, gatherer prometheus.Gatherer, r *echo.Echo) {
	r.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, i.Status())
	})

	r.GET("/processes", func(c echo.Context) error {
		return c.JSON(http.StatusOK, i.registry.List(i.kind))
	})

	r.GET("/processes/:id", func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid process id")
		}

		entity, err := i.registry.Get(registry.Key{Kind: i.kind, Id: id})
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return c.JSON(http.StatusOK, entity)
	})

	r.GET("/runs", func(c echo.Context) error {
		filter := auditlog.Filter{}

		if pid := c.QueryParam("process"); pid != "" {
			id, err := strconv.ParseInt(pid, 10, 64)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid process id")
			}
			filter.ProcessIds = []int64{id}
		}

		for param, field := range map[string]*time.Time{"begin": &filter.Begin, "end": &filter.End} {
			if value := c.QueryParam(param); value != "" {
				ts, err := time.Parse(time.RFC3339, value)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param+" timestamp")
				}
				*field = ts
			}
		}

		if limit := c.QueryParam("limit"); limit != "" {
			n, err := strconv.Atoi(limit)
			if err != nil || n < 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
			}
			filter.Limit = n
		}

		runs, err := i.logger.Runs(c.Request().Context(), filter)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(http.StatusOK, runs)
	})

	r.GET("/runs/:id", func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
		}

		run, err := i.logger.Run(c.Request().Context(), auditlog.RegisterId(id))
		if errors.Is(err, auditlog.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		} else if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(http.StatusOK, run)
	})
}
