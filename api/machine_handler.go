package api

import (
	"net/http"

	"github.com/xraph/forge"
)

func (a *API) listMachines(ctx forge.Context) error {
	owner, err := a.owner(ctx)
	if owner == "" {
		return err
	}

	machines, err := a.eng.ListMachines(ctx.Context(), owner)
	if err != nil {
		return mapEngineError(err)
	}

	return ctx.JSON(http.StatusOK, machines)
}
