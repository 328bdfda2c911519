package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/differentialhq/differential-sub000/definition"
)

func (a *API) getDefinition(ctx forge.Context) error {
	owner, err := a.owner(ctx)
	if owner == "" {
		return err
	}

	doc, err := a.eng.GetDefinition(ctx.Context(), owner)
	if err != nil {
		return mapEngineError(err)
	}

	return ctx.JSON(http.StatusOK, doc)
}

func (a *API) putDefinition(ctx forge.Context, req *definition.Document) (*struct{}, error) {
	owner, err := a.owner(ctx)
	if owner == "" {
		return nil, err
	}

	// The document's owner is always the authenticated tenant; a body
	// claiming a different owner is ignored, not an error.
	req.OwnerHash = owner

	if err := a.eng.PutDefinition(ctx.Context(), req); err != nil {
		return nil, mapEngineError(err)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}
