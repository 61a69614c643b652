package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/cmd/forged/handlers"
	httptestutil "github.com/fleetforge/fleetforge/internal/testutils/http"
	apideployments "github.com/fleetforge/fleetforge/pkg/api/types/deployments"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/domain"
	mockaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db/mock"
	mockcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db/mock"
	mockdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db/mock"
	kerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	mockgrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db/mock"
)

func operatorGuard() *auth.Guard {
	grants := mockgrant.NewGrantInterface()
	grants.Impl.RoleOn = func(ctx context.Context, subject string, tenantId string) (domain.Role, bool, error) {
		if tenantId == "tenant-a" {
			return domain.Operator, true, nil
		}
		return "", false, nil
	}
	audit := mockaudit.NewAuditInterface()
	audit.Impl.Append = func(ctx context.Context, event domain.AuditEvent) (int64, error) {
		return 7, nil
	}
	return auth.NewGuard(grants, audit)
}

func deploymentParams(c echo.Context, deploymentId string) {
	c.SetPath("/api/tenants/:tenantId/deployments/:deploymentId/")
	c.SetParamNames("tenantId", "deploymentId")
	c.SetParamValues("tenant-a", deploymentId)
}

func TestCreateDeploymentHandler(t *testing.T) {

	payload := `{
		"componentName": "detector",
		"componentVersion": 3,
		"strategy": "canary",
		"targets": ["dev-1", "dev-2", "dev-3"]
	}`

	t.Run("a deployment of a published version is created", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.New = func(ctx context.Context, spec domain.DeploymentSpec) (string, error) {
			return "deploy-1", nil
		}
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			return map[string]domain.Deployment{
				"deploy-1": {DeploymentBody: domain.DeploymentBody{
					Id: "deploy-1", TenantId: "tenant-a",
					ComponentName: "detector", ComponentVersion: 3,
					Strategy: domain.Canary,
					Targets:  []string{"dev-1", "dev-2", "dev-3"},
					Status:   domain.DeployPending,
				}},
			}, nil
		}

		testee := handlers.CreateDeploymentHandler(deployment, activeTenant(), guard)

		c, respRec := httptestutil.Post(
			e, "/api/tenants/tenant-a/deployments/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/tenants/:tenantId/deployments/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusCreated {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}

		var detail apideployments.Detail
		if err := json.Unmarshal(respRec.Body.Bytes(), &detail); err != nil {
			t.Fatalf("response is not a deployment detail: %+v", err)
		}
		if detail.DeploymentId != "deploy-1" || detail.Strategy != "canary" {
			t.Errorf("unexpected detail: %+v", detail)
		}

		spec := deployment.Calls.New[0]
		if spec.ComponentVersion != 3 || spec.Strategy != domain.Canary ||
			spec.CreatedBy != "alice@example" {
			t.Errorf("unexpected spec: %+v", spec)
		}
	})

	t.Run("an unpublished version is rejected", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.New = func(ctx context.Context, spec domain.DeploymentSpec) (string, error) {
			return "", kerr.ErrMissing
		}

		testee := handlers.CreateDeploymentHandler(deployment, activeTenant(), guard)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-a/deployments/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/tenants/:tenantId/deployments/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusBadRequest {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})

	t.Run("an unknown strategy is rejected", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		testee := handlers.CreateDeploymentHandler(
			mockdeployment.NewDeploymentInterface(), activeTenant(), guard,
		)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-a/deployments/",
			strings.NewReader(`{"componentName":"detector","componentVersion":3,"strategy":"yolo","targets":["dev-1"]}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/tenants/:tenantId/deployments/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusBadRequest {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})
}

func TestResolveHaltHandler(t *testing.T) {

	halted := func() map[string]domain.Deployment {
		return map[string]domain.Deployment{
			"deploy-1": {DeploymentBody: domain.DeploymentBody{
				Id: "deploy-1", TenantId: "tenant-a",
				ComponentName: "detector", ComponentVersion: 3,
				Strategy: domain.Canary,
				Targets:  []string{"dev-1", "dev-2"},
				Status:   domain.DeployInProgress,
				Halted:   true,
			}},
		}
	}

	t.Run("resume lifts the halt", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			return halted(), nil
		}
		deployment.Impl.SetHalted = func(ctx context.Context, deploymentId string, halted bool) error {
			return nil
		}

		testee := handlers.ResolveHaltHandler(deployment, guard)

		c, respRec := httptestutil.Put(
			e, "/api/tenants/tenant-a/deployments/deploy-1/halt/",
			strings.NewReader(`{"action":"resume"}`),
			httptestutil.ContentType("application/json"),
		)
		deploymentParams(c, "deploy-1")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusOK {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}

		if deployment.Calls.SetHalted.Times() != 1 {
			t.Fatalf("SetHalted: called %d times", deployment.Calls.SetHalted.Times())
		}
		set := deployment.Calls.SetHalted[0]
		if set.DeploymentId != "deploy-1" || set.Halted {
			t.Errorf("unexpected SetHalted: %+v", set)
		}
		if deployment.Calls.SetStatus.Times() != 0 {
			t.Errorf("SetStatus: called %d times", deployment.Calls.SetStatus.Times())
		}
	})

	t.Run("fail closes the deployment", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			return halted(), nil
		}
		deployment.Impl.SetStatus = func(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error {
			return nil
		}

		testee := handlers.ResolveHaltHandler(deployment, guard)

		c, _ := httptestutil.Put(
			e, "/api/tenants/tenant-a/deployments/deploy-1/halt/",
			strings.NewReader(`{"action":"fail"}`),
			httptestutil.ContentType("application/json"),
		)
		deploymentParams(c, "deploy-1")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		set := deployment.Calls.SetStatus[0]
		if set.DeploymentId != "deploy-1" || set.NewStatus != domain.DeployFailed {
			t.Errorf("unexpected SetStatus: %+v", set)
		}
		if deployment.Calls.SetHalted.Times() != 0 {
			t.Errorf("SetHalted: called %d times", deployment.Calls.SetHalted.Times())
		}
	})

	t.Run("a deployment that is not halted conflicts", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			running := halted()
			d := running["deploy-1"]
			d.Halted = false
			running["deploy-1"] = d
			return running, nil
		}

		testee := handlers.ResolveHaltHandler(deployment, guard)

		c, _ := httptestutil.Put(
			e, "/api/tenants/tenant-a/deployments/deploy-1/halt/",
			strings.NewReader(`{"action":"resume"}`),
			httptestutil.ContentType("application/json"),
		)
		deploymentParams(c, "deploy-1")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusConflict {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})
}

func TestRollbackDeploymentHandler(t *testing.T) {

	original := domain.Deployment{DeploymentBody: domain.DeploymentBody{
		Id: "deploy-1", TenantId: "tenant-a",
		ComponentName: "detector", ComponentVersion: 3,
		Strategy: domain.Canary,
		Targets:  []string{"dev-1", "dev-2"},
		Status:   domain.DeployInProgress,
	}}

	t.Run("rollback redeploys the previous version all at once", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			return map[string]domain.Deployment{
				"deploy-1": original,
				"deploy-2": {DeploymentBody: domain.DeploymentBody{
					Id: "deploy-2", TenantId: "tenant-a",
					ComponentName: "detector", ComponentVersion: 2,
					Strategy:   domain.AllAtOnce,
					Targets:    []string{"dev-1", "dev-2"},
					Status:     domain.DeployPending,
					RollbackOf: "deploy-1",
				}},
			}, nil
		}
		deployment.Impl.New = func(ctx context.Context, spec domain.DeploymentSpec) (string, error) {
			return "deploy-2", nil
		}
		deployment.Impl.SetStatus = func(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error {
			return nil
		}

		component := mockcomponent.NewComponentInterface()
		component.Impl.PreviousOf = func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
			return domain.PublishedComponent{
				TenantId: "tenant-a", Name: "detector", Version: 2, Ref: "component-ref-2",
			}, nil
		}

		testee := handlers.RollbackDeploymentHandler(deployment, component, guard)

		c, respRec := httptestutil.Post(
			e, "/api/tenants/tenant-a/deployments/deploy-1/rollback/", nil,
		)
		deploymentParams(c, "deploy-1")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusCreated {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}

		var detail apideployments.Detail
		if err := json.Unmarshal(respRec.Body.Bytes(), &detail); err != nil {
			t.Fatalf("response is not a deployment detail: %+v", err)
		}
		if detail.DeploymentId != "deploy-2" || detail.RollbackOf != "deploy-1" {
			t.Errorf("unexpected detail: %+v", detail)
		}

		spec := deployment.Calls.New[0]
		if spec.ComponentVersion != 2 || spec.Strategy != domain.AllAtOnce ||
			spec.RollbackOf != "deploy-1" {
			t.Errorf("unexpected spec: %+v", spec)
		}

		// the in-progress original is closed as rolled back.
		set := deployment.Calls.SetStatus[0]
		if set.DeploymentId != "deploy-1" || set.NewStatus != domain.DeployRolledBack {
			t.Errorf("unexpected SetStatus: %+v", set)
		}
	})

	t.Run("a finished original is left untouched", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		finished := original
		finished.Status = domain.DeploySucceeded

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			return map[string]domain.Deployment{
				"deploy-1": finished,
				"deploy-2": {DeploymentBody: domain.DeploymentBody{
					Id: "deploy-2", TenantId: "tenant-a", RollbackOf: "deploy-1",
				}},
			}, nil
		}
		deployment.Impl.New = func(ctx context.Context, spec domain.DeploymentSpec) (string, error) {
			return "deploy-2", nil
		}

		component := mockcomponent.NewComponentInterface()
		component.Impl.PreviousOf = func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
			return domain.PublishedComponent{
				TenantId: "tenant-a", Name: "detector", Version: 2, Ref: "component-ref-2",
			}, nil
		}

		testee := handlers.RollbackDeploymentHandler(deployment, component, guard)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-a/deployments/deploy-1/rollback/", nil,
		)
		deploymentParams(c, "deploy-1")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if deployment.Calls.SetStatus.Times() != 0 {
			t.Errorf("SetStatus: called %d times", deployment.Calls.SetStatus.Times())
		}
	})

	t.Run("rollback without an older version conflicts", func(t *testing.T) {
		e := echo.New()
		guard := operatorGuard()

		deployment := mockdeployment.NewDeploymentInterface()
		deployment.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
			return map[string]domain.Deployment{"deploy-1": original}, nil
		}

		component := mockcomponent.NewComponentInterface()
		component.Impl.PreviousOf = func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
			return domain.PublishedComponent{}, kerr.ErrMissing
		}

		testee := handlers.RollbackDeploymentHandler(deployment, component, guard)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-a/deployments/deploy-1/rollback/", nil,
		)
		deploymentParams(c, "deploy-1")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusConflict {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})
}
