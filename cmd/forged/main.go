package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fleetforge/fleetforge/cmd/forged/handlers"
	configs "github.com/fleetforge/fleetforge/pkg/configs/backend"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/credential"
	ffpg "github.com/fleetforge/fleetforge/pkg/domain/fleetforge/db/postgres"
	"github.com/fleetforge/fleetforge/pkg/extsvc/rest"
	"github.com/fleetforge/fleetforge/pkg/utils/echoutil"
	"github.com/fleetforge/fleetforge/pkg/utils/filewatch"
	"github.com/fleetforge/fleetforge/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String(
		"config", os.Getenv("FLEETFORGE_BACKEND_CONFIG"), "path to config file",
	)
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	flag.Parse()

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(configs.LoadBackendConfig(*pconfig)).OrFatal(logger)

	db := try.To(ffpg.New(ctx, conf.Database(), ffpg.WithSchemaUpgrade())).OrFatal(logger)
	defer db.Close()

	guard := auth.NewGuard(db.Grant(), db.Audit())
	resolver := auth.NewResolver(
		auth.NewJWTVerifier(conf.Auth().SignKey()),
		conf.Auth().RoleMapping(),
	)
	broker := credential.NewBroker(
		rest.NewIssuer(conf.Services().TokenService()),
		conf.Broker().RefreshMargin(),
		conf.Broker().MaxTTL(),
	)

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())

	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	// completion signals come from the external job services, not from users,
	// so the signal route stays outside the principal middleware.
	e.POST("/api/signals/jobs/", handlers.JobSignalHandler(db.Job(), logger))

	api := e.Group("/api", auth.Middleware(resolver))

	{
		api.POST("/tenants/", handlers.RegisterTenantHandler(db.Tenant(), db.Grant(), guard))
		api.GET("/tenants/", handlers.FindTenantHandler(db.Tenant(), guard))
		api.GET("/tenants/:tenantId/", handlers.GetTenantHandler(db.Tenant(), guard))
		api.PUT("/tenants/:tenantId/storage/", handlers.UpdateTenantStorageHandler(db.Tenant(), guard))
		api.DELETE("/tenants/:tenantId/", handlers.DeleteTenantHandler(db.Tenant(), guard))
		api.POST("/tenants/:tenantId/trust-scope/", handlers.RotateTrustScopeHandler(db.Tenant(), guard, broker))

		api.POST("/tenants/:tenantId/grants/", handlers.GrantRoleHandler(db.Grant(), guard))
		api.DELETE("/tenants/:tenantId/grants/:subject/", handlers.RevokeRoleHandler(db.Grant(), guard))
	}

	{
		api.POST("/tenants/:tenantId/jobs/", handlers.CreateJobHandler(db.Job(), db.Tenant(), guard))
		api.GET("/tenants/:tenantId/jobs/", handlers.FindJobHandler(db.Job(), guard))
		api.GET("/tenants/:tenantId/jobs/:jobId/", handlers.GetJobHandler(db.Job(), guard))
		api.PUT("/tenants/:tenantId/jobs/:jobId/cancel/", handlers.CancelJobHandler(db.Job(), guard))
	}

	{
		api.POST("/tenants/:tenantId/deployments/", handlers.CreateDeploymentHandler(db.Deployment(), db.Tenant(), guard))
		api.GET("/tenants/:tenantId/deployments/", handlers.FindDeploymentHandler(db.Deployment(), guard))
		api.GET("/tenants/:tenantId/deployments/:deploymentId/", handlers.GetDeploymentHandler(db.Deployment(), guard))
		api.POST("/tenants/:tenantId/deployments/:deploymentId/rollback/", handlers.RollbackDeploymentHandler(db.Deployment(), db.Component(), guard))
		api.PUT("/tenants/:tenantId/deployments/:deploymentId/halt/", handlers.ResolveHaltHandler(db.Deployment(), guard))
	}

	{
		api.GET("/tenants/:tenantId/audit/", handlers.FindAuditHandler(db.Audit(), guard))
	}

	context.AfterFunc(ctx, func() {
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			logger.Printf("error on shutdown: %s", err)
		}
	})

	if err := e.Start(fmt.Sprintf(":%d", conf.Port())); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}
