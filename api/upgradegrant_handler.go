package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/sttts/kausality/id"
	"github.com/sttts/kausality/upgradegrant"
)

func (a *API) registerUpgradeGrantRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("upgrade-grants"))

	if err := g.POST("/upgrade-grants", a.createUpgradeGrant,
		forge.WithSummary("Create upgrade grant"),
		forge.WithDescription("Creates an upgrade grant activated when the subject's fingerprint changes."),
		forge.WithOperationID("createUpgradeGrant"),
		forge.WithRequestSchema(CreateUpgradeGrantRequest{}),
		forge.WithCreatedResponse(&upgradegrant.Grant{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/upgrade-grants/:grantId", a.getUpgradeGrant,
		forge.WithSummary("Get upgrade grant"),
		forge.WithOperationID("getUpgradeGrant"),
		forge.WithResponseSchema(http.StatusOK, "Upgrade grant details", &upgradegrant.Grant{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.PUT("/upgrade-grants/:grantId", a.updateUpgradeGrant,
		forge.WithSummary("Update upgrade grant"),
		forge.WithOperationID("updateUpgradeGrant"),
		forge.WithRequestSchema(UpdateUpgradeGrantRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated upgrade grant", &upgradegrant.Grant{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.DELETE("/upgrade-grants/:grantId", a.deleteUpgradeGrant,
		forge.WithSummary("Delete upgrade grant"),
		forge.WithOperationID("deleteUpgradeGrant"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/upgrade-grants", a.listUpgradeGrants,
		forge.WithSummary("List upgrade grants"),
		forge.WithOperationID("listUpgradeGrants"),
		forge.WithRequestSchema(ListUpgradeGrantsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Upgrade grant list", []*upgradegrant.Grant{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) createUpgradeGrant(ctx forge.Context, req *CreateUpgradeGrantRequest) (*upgradegrant.Grant, error) {
	if req.Subject == "" {
		return nil, forge.BadRequest("subject is required")
	}
	if len(req.Policies) == 0 {
		return nil, forge.BadRequest("policies cannot be empty")
	}

	now := time.Now()
	g := &upgradegrant.Grant{
		ID:        id.NewUpgradeGrantID(),
		ClusterID: req.ClusterID,
		Subject:   req.Subject,
		Policies:  req.Policies,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.eng.Store().CreateUpgradeGrant(ctx.Context(), g); err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitUpgradeGrantCreated(ctx.Context(), g)
	}

	return g, ctx.JSON(http.StatusCreated, g)
}

func (a *API) getUpgradeGrant(ctx forge.Context, _ *GetUpgradeGrantRequest) (*upgradegrant.Grant, error) {
	grantID, err := id.ParseUpgradeGrantID(ctx.Param("grantId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid upgrade grant ID: %v", err))
	}

	g, err := a.eng.Store().GetUpgradeGrant(ctx.Context(), grantID)
	if err != nil {
		return nil, mapError(err)
	}

	return g, ctx.JSON(http.StatusOK, g)
}

func (a *API) updateUpgradeGrant(ctx forge.Context, req *UpdateUpgradeGrantRequest) (*upgradegrant.Grant, error) {
	grantID, err := id.ParseUpgradeGrantID(ctx.Param("grantId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid upgrade grant ID: %v", err))
	}

	g, err := a.eng.Store().GetUpgradeGrant(ctx.Context(), grantID)
	if err != nil {
		return nil, mapError(err)
	}

	if req.Policies != nil {
		g.Policies = req.Policies
	}
	if req.Metadata != nil {
		g.Metadata = req.Metadata
	}
	g.UpdatedAt = time.Now()

	if err := a.eng.Store().UpdateUpgradeGrant(ctx.Context(), g); err != nil {
		return nil, mapError(err)
	}

	return g, ctx.JSON(http.StatusOK, g)
}

func (a *API) deleteUpgradeGrant(ctx forge.Context, _ *GetUpgradeGrantRequest) (*struct{}, error) {
	grantID, err := id.ParseUpgradeGrantID(ctx.Param("grantId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid upgrade grant ID: %v", err))
	}

	if err := a.eng.Store().DeleteUpgradeGrant(ctx.Context(), grantID); err != nil {
		return nil, mapError(err)
	}

	if a.eng.Plugins() != nil {
		a.eng.Plugins().EmitUpgradeGrantDeleted(ctx.Context(), grantID)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

func (a *API) listUpgradeGrants(ctx forge.Context, req *ListUpgradeGrantsRequest) ([]*upgradegrant.Grant, error) {
	filter := &upgradegrant.ListFilter{
		ClusterID: req.ClusterID,
		Subject:   req.Subject,
		Limit:     defaultLimit(req.Limit),
		Offset:    req.Offset,
	}

	grants, err := a.eng.Store().ListUpgradeGrants(ctx.Context(), filter)
	if err != nil {
		return nil, mapError(err)
	}

	return grants, ctx.JSON(http.StatusOK, grants)
}
