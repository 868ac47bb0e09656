package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core/task"
)

type taskApi struct {
	svc      *task.Service
	validate *validator.Validate
}

func registerTaskAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *task.Service, validate *validator.Validate) {
	api := taskApi{svc: svc, validate: validate}

	tg := g.Group("/tasks", jwt)
	tg.GET("", api.query)
	tg.POST("", api.create)

	// detail endpoints
	tg.GET("/:id", api.retrieve)
	tg.PUT("/:id", api.update)
	tg.PATCH("/:id", api.update)
	tg.DELETE("/:id", api.destroy)
	tg.POST("/:id/stage", api.moveStage)
	tg.GET("/:id/history", api.history)

	// stage configs
	tg.GET("/:id/stage-configs", api.queryStageConfigs)
	tg.POST("/:id/stage-configs", api.createStageConfig)
	tg.PUT("/:id/stage-configs/:config_id", api.updateStageConfig)
	tg.DELETE("/:id/stage-configs/:config_id", api.destroyStageConfig)
}

// Handlers

func (api *taskApi) query(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter task.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	if filter.Stage != "" {
		if filter.Stage, err = task.ParseStage(filter.Stage.String()); err != nil {
			return err
		}
	}
	if filter.IsDelayed, err = queryBool(ctx, "is_delayed"); err != nil {
		return err
	}

	tasks, err := api.svc.Query(ctx.Request().Context(), p, filter)
	if err != nil {
		return errors.Wrap(err, "querying tasks")
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *taskApi) create(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data task.NewTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	tsk, err := api.svc.Create(ctx.Request().Context(), p, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, tsk)
}

func (api *taskApi) retrieve(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	tsk, err := api.svc.Get(ctx.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tsk)
}

func (api *taskApi) update(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data task.UpdateTask
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTask")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	tsk, err := api.svc.Update(ctx.Request().Context(), p, id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tsk)
}

func (api *taskApi) destroy(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), p, id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *taskApi) moveStage(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data task.StageMove
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StageMove")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	tsk, hist, err := api.svc.MoveStage(ctx.Request().Context(), p, id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, StageMoveResponse{Task: tsk, History: hist})
}

func (api *taskApi) history(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	hists, err := api.svc.Histories(ctx.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, hists)
}

func (api *taskApi) queryStageConfigs(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	cfgs, err := api.svc.StageConfigs(ctx.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cfgs)
}

func (api *taskApi) createStageConfig(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data task.NewStageConfig
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStageConfig")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	cfg, err := api.svc.CreateStageConfig(ctx.Request().Context(), p, id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, cfg)
}

func (api *taskApi) updateStageConfig(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	cfgID, err := paramID(ctx, "config_id")
	if err != nil {
		return err
	}
	var data task.UpdateStageConfig
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStageConfig")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	cfg, err := api.svc.UpdateStageConfig(ctx.Request().Context(), p, id, cfgID, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, cfg)
}

func (api *taskApi) destroyStageConfig(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	cfgID, err := paramID(ctx, "config_id")
	if err != nil {
		return err
	}
	if err = api.svc.DeleteStageConfig(ctx.Request().Context(), p, id, cfgID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

type StageMoveResponse struct {
	Task    task.Task    `json:"task"`
	History task.History `json:"history"`
}
