package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/bastion"
	"github.com/xraph/bastion/id"
	"github.com/xraph/bastion/rule"
)

func (a *API) registerRuleRoutes(router forge.Router) error {
	g := router.Group(a.prefix(), forge.WithGroupTags("rules"))

	if err := g.POST("/rules", a.addRule,
		forge.WithSummary("Add rule"),
		forge.WithDescription("Records a permission rule. A newer rule for the same key, scope and target supersedes older ones."),
		forge.WithOperationID("addRule"),
		forge.WithRequestSchema(AddRuleRequest{}),
		forge.WithCreatedResponse(&rule.Rule{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/rules", a.listRules,
		forge.WithSummary("List rules"),
		forge.WithDescription("Lists stored rules, oldest first, with optional filters."),
		forge.WithOperationID("listRules"),
		forge.WithRequestSchema(ListRulesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Rule list", ListResponse[*rule.Rule]{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/rules/:ruleId", a.getRule,
		forge.WithSummary("Get rule"),
		forge.WithDescription("Returns a stored rule."),
		forge.WithOperationID("getRule"),
		forge.WithResponseSchema(http.StatusOK, "Rule details", &rule.Rule{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/reload", a.reload,
		forge.WithSummary("Reload rules"),
		forge.WithDescription("Rebuilds the rule index from the store after an out-of-band change."),
		forge.WithOperationID("reloadRules"),
		forge.WithResponseSchema(http.StatusOK, "Reloaded", ReloadResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) addRule(ctx forge.Context, req *AddRuleRequest) (*rule.Rule, error) {
	if req.Caller == nil {
		return nil, forge.BadRequest("caller is required")
	}

	caller := toCaller(req.Caller)
	if caller.ID == "" {
		caller.ID = forge.UserIDFromContext(ctx.Context())
	}

	ruleID, err := a.eng.AddRule(ctx.Context(), toRule(req), caller)
	if err != nil {
		return nil, mapError(err)
	}

	r, err := a.eng.GetRule(ctx.Context(), ruleID)
	if err != nil {
		return nil, mapError(err)
	}
	return r, ctx.JSON(http.StatusCreated, r)
}

func (a *API) listRules(ctx forge.Context, req *ListRulesRequest) (*ListResponse[*rule.Rule], error) {
	filter := &rule.ListFilter{
		Key:     req.Key,
		Scope:   rule.Scope(req.Scope),
		ScopeID: req.ScopeID,
		Limit:   defaultLimit(req.Limit),
		Offset:  req.Offset,
	}

	rules, total, err := a.eng.ListRules(ctx.Context(), filter)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &ListResponse[*rule.Rule]{
		Items:  rules,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) getRule(ctx forge.Context, _ *GetRuleRequest) (*rule.Rule, error) {
	ruleID, err := id.ParseRuleID(ctx.Param("ruleId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid rule ID: %v", err))
	}

	r, err := a.eng.GetRule(ctx.Context(), ruleID)
	if err != nil {
		return nil, mapError(err)
	}

	return r, ctx.JSON(http.StatusOK, r)
}

func (a *API) reload(ctx forge.Context, _ *struct{}) (*ReloadResponse, error) {
	if err := a.eng.Reload(ctx.Context()); err != nil {
		return nil, mapError(err)
	}

	resp := &ReloadResponse{Count: a.eng.RuleCount()}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func toRule(r *AddRuleRequest) *rule.Rule {
	return &rule.Rule{
		Key:     r.Key,
		Scope:   rule.Scope(r.Scope),
		ScopeID: r.ScopeID,
		Target:  rule.Target{Kind: rule.TargetKind(r.TargetKind), ID: r.TargetID},
		Allowed: r.Allowed,
	}
}

func toCaller(c *CallerRequest) *bastion.Caller {
	return &bastion.Caller{
		ID:               c.ID,
		IsBotOwner:       c.IsBotOwner,
		GuildID:          c.GuildID,
		IsGuildOwner:     c.IsGuildOwner,
		IsGuildAdmin:     c.IsGuildAdmin,
		ChannelID:        c.ChannelID,
		CanManageChannel: c.CanManageChannel,
	}
}
