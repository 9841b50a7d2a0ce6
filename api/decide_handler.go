package api

import (
	"net/http"

	"github.com/xraph/forge"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kausality"
)

func (a *API) registerDecideRoutes(router forge.Router) error {
	g := router.Group("/v1/admission", forge.WithGroupTags("admission"))

	if err := g.POST("/decide", a.decide,
		forge.WithSummary("Admission decision"),
		forge.WithDescription("Evaluates whether the requested mutation is causally justified and returns the allowance set to persist."),
		forge.WithOperationID("admissionDecide"),
		forge.WithRequestSchema(DecideRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Decision", DecideResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/enforce", a.enforce,
		forge.WithSummary("Enforce admission"),
		forge.WithDescription("Returns 200 if the mutation is accepted, 403 if rejected."),
		forge.WithOperationID("admissionEnforce"),
		forge.WithRequestSchema(DecideRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Accepted", DecideResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) decide(ctx forge.Context, req *DecideRequest) (*DecideResponse, error) {
	if req.SubjectName == "" || len(req.Object) == 0 {
		return nil, forge.BadRequest("subject_name and object are required")
	}

	d, err := a.eng.Decide(ctx.Context(), toDecideRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := toDecideResponse(d)
	return resp, ctx.JSON(http.StatusOK, resp)
}

func (a *API) enforce(ctx forge.Context, req *DecideRequest) (*DecideResponse, error) {
	if req.SubjectName == "" || len(req.Object) == 0 {
		return nil, forge.BadRequest("subject_name and object are required")
	}

	d, err := a.eng.Decide(ctx.Context(), toDecideRequest(req))
	if err != nil {
		return nil, mapError(err)
	}

	resp := toDecideResponse(d)
	if !d.Accepted() {
		return resp, ctx.JSON(http.StatusForbidden, resp)
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

func toDecideRequest(r *DecideRequest) *kausality.Request {
	req := &kausality.Request{
		Subject: kausality.Subject{
			Kind:      kausality.SubjectKind(r.SubjectKind),
			Name:      r.SubjectName,
			Namespace: r.SubjectNamespace,
		},
		Verb:                kausality.Verb(r.Verb),
		Object:              &unstructured.Unstructured{Object: r.Object},
		ParentAllowancesRaw: r.ParentAllowancesRaw,
		ObjectAllowancesRaw: r.ObjectAllowancesRaw,
		Fingerprint:         r.Fingerprint,
		StoredFingerprint:   r.StoredFingerprint,
	}
	if len(r.OldObject) > 0 {
		req.OldObject = &unstructured.Unstructured{Object: r.OldObject}
	}
	if len(r.Parent) > 0 {
		req.Parent = &unstructured.Unstructured{Object: r.Parent}
	}
	return req
}

func toDecideResponse(d *kausality.Decision) *DecideResponse {
	return &DecideResponse{
		Outcome:            string(d.Outcome),
		Reason:             d.Reason,
		Phase:              string(d.Phase),
		Allowances:         d.Allowances,
		UpdatedFingerprint: d.UpdatedFingerprint,
		Warnings:           d.Warnings,
		EvalTimeNs:         d.EvalTimeNs,
	}
}
