package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting principal")
			}
			if p.IsAdmin() {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware lets teachers and admins through.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting principal")
			}
			if p.IsStaff() {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
