package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/bastion"
)

func (a *API) registerEvaluateRoutes(router forge.Router) error {
	g := router.Group(a.prefix(), forge.WithGroupTags("evaluation"))

	if err := g.POST("/evaluate", a.evaluate,
		forge.WithSummary("Evaluate permission"),
		forge.WithDescription("Resolves whether the requester may use the permission key in the given location."),
		forge.WithOperationID("evaluatePermission"),
		forge.WithRequestSchema(EvaluateRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Decision", DecisionResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/enforce", a.enforce,
		forge.WithSummary("Enforce permission"),
		forge.WithDescription("Returns 200 if allowed, 403 if denied."),
		forge.WithOperationID("enforcePermission"),
		forge.WithRequestSchema(EvaluateRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Allowed", DecisionResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/effective", a.effective,
		forge.WithSummary("Effective permissions"),
		forge.WithDescription("Lists every permission key a stored rule decides for the requester."),
		forge.WithOperationID("effectivePermissions"),
		forge.WithRequestSchema(EffectiveRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Effective permissions", EffectiveResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/defaults", a.defaults,
		forge.WithSummary("Default table"),
		forge.WithDescription("Returns the defaults applied when no rule matches."),
		forge.WithOperationID("permissionDefaults"),
		forge.WithResponseSchema(http.StatusOK, "Default table", DefaultsResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) evaluate(ctx forge.Context, req *EvaluateRequest) (*DecisionResponse, error) {
	if req.Key == "" || req.RequesterID == "" {
		return nil, forge.BadRequest("key and requester_id are required")
	}

	d, err := a.eng.Evaluate(ctx.Context(), toRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := toDecisionResponse(d)
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) enforce(ctx forge.Context, req *EvaluateRequest) (*DecisionResponse, error) {
	if req.Key == "" || req.RequesterID == "" {
		return nil, forge.BadRequest("key and requester_id are required")
	}

	d, err := a.eng.Evaluate(ctx.Context(), toRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := toDecisionResponse(d)
	if !d.Allowed {
		return resp, ctx.JSON(http.StatusForbidden, resp)
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) effective(ctx forge.Context, req *EffectiveRequest) (*EffectiveResponse, error) {
	if req.RequesterID == "" {
		return nil, forge.BadRequest("requester_id is required")
	}

	decisions, err := a.eng.Effective(ctx.Context(), toRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := &EffectiveResponse{Permissions: make([]DecisionResponse, 0, len(decisions))}
	for _, d := range decisions {
		resp.Permissions = append(resp.Permissions, *toDecisionResponse(d))
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) defaults(ctx forge.Context, _ *struct{}) (*DefaultsResponse, error) {
	resp := &DefaultsResponse{Entries: a.eng.Defaults().Entries()}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func toRequest(r *EvaluateRequest) *bastion.Request {
	return &bastion.Request{
		Key:         r.Key,
		RequesterID: r.RequesterID,
		RoleIDs:     r.RoleIDs,
		GuildID:     r.GuildID,
		ChannelID:   r.ChannelID,
		IsAdmin:     r.IsAdmin,
		IsBotOwner:  r.IsBotOwner,
	}
}

func toDecisionResponse(d *bastion.Decision) *DecisionResponse {
	return &DecisionResponse{
		Key:        d.Key,
		Allowed:    d.Allowed,
		Reason:     string(d.Reason),
		Rule:       d.Rule,
		Detail:     d.Detail,
		EvalTimeNs: d.EvalTimeNs,
	}
}
