package utils

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/terrama2/services/pkg/log"
)

// Echo middleware tracing every request with its status and latency.
func HttpLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		log.Tracef("%4s %s %d %v from %s",
			c.Request().Method,
			c.Request().URL,
			c.Response().Status,
			time.Since(start).Round(time.Microsecond),
			c.RealIP())
		return nil
	}
}
