package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core/timetrack"
)

type timeTrackingApi struct {
	svc *timetrack.Service
}

func registerTimeTrackingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *timetrack.Service) {
	api := timeTrackingApi{svc: svc}

	tg := g.Group("/time-tracking", jwt)
	tg.POST("/scan", api.scan, staffMiddleware())
	tg.GET("/delayed", api.delayed)
	tg.GET("/tasks/:id/statistics", api.taskStatistics)
	tg.GET("/users/:id/statistics", api.userStatistics)
}

// Handlers

func (api *timeTrackingApi) scan(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data ScanRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScanRequest")
	}
	if data.Threshold < 0 {
		data.Threshold = 0
	}

	delayed, err := api.svc.TriggerScan(ctx.Request().Context(), p, data.Threshold)
	if err != nil {
		return err
	}
	threshold := data.Threshold
	if threshold == 0 {
		threshold = api.svc.Threshold()
	}
	return ctx.JSON(http.StatusOK, ScanResponse{Threshold: threshold, Count: len(delayed), Delayed: delayed})
}

func (api *timeTrackingApi) delayed(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var query DelayedQuery
	if err = ctx.Bind(&query); err != nil {
		return err
	}
	statuses, err := api.svc.ListDelayed(ctx.Request().Context(), p, query.UserID)
	if err != nil {
		return errors.Wrap(err, "listing delayed tasks")
	}
	return ctx.JSON(http.StatusOK, statuses)
}

func (api *timeTrackingApi) taskStatistics(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	stats, err := api.svc.TaskStatistics(ctx.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *timeTrackingApi) userStatistics(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	stats, err := api.svc.UserStatistics(ctx.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

type (
	ScanRequest struct {
		Threshold float64 `json:"threshold"` // percent; 0 uses the configured threshold
	}

	ScanResponse struct {
		Threshold float64                 `json:"threshold"`
		Count     int                     `json:"count"`
		Delayed   []timetrack.DelayStatus `json:"delayed"`
	}

	DelayedQuery struct {
		UserID int `query:"user_id"`
	}
)
