package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/stageboard/core/helprequest"
)

type helpRequestApi struct {
	svc      *helprequest.Service
	validate *validator.Validate
}

func registerHelpRequestAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *helprequest.Service, validate *validator.Validate) {
	api := helpRequestApi{svc: svc, validate: validate}

	hg := g.Group("/help-requests", jwt)
	hg.GET("", api.query)
	hg.POST("", api.create)
	hg.GET("/:id", api.retrieve)
	hg.POST("/:id/resolve", api.resolve, staffMiddleware())
}

// Handlers

func (api *helpRequestApi) query(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var filter helprequest.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return err
	}
	if filter.Resolved, err = queryBool(ctx, "resolved"); err != nil {
		return err
	}
	if err = api.validate.Struct(filter); err != nil {
		return err
	}

	hrs, err := api.svc.Query(ctx.Request().Context(), p, filter)
	if err != nil {
		return errors.Wrap(err, "querying help requests")
	}
	return ctx.JSON(http.StatusOK, hrs)
}

// create answers 201 for a new request and 200 when the open request of the caller was reused.
func (api *helpRequestApi) create(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	var data helprequest.NewHelpRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHelpRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	hr, created, err := api.svc.Create(ctx.Request().Context(), p, data)
	if err != nil {
		return err
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, hr)
}

func (api *helpRequestApi) retrieve(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	hr, err := api.svc.Get(ctx.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, hr)
}

func (api *helpRequestApi) resolve(ctx echo.Context) error {
	p, err := getPrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	var data helprequest.Resolution
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Resolution")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	hr, err := api.svc.Resolve(ctx.Request().Context(), p, id, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, hr)
}
