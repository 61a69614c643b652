package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetforge/fleetforge/cmd/loops/recurring"
	configs "github.com/fleetforge/fleetforge/pkg/configs/backend"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	ffpg "github.com/fleetforge/fleetforge/pkg/domain/fleetforge/db/postgres"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
	"github.com/fleetforge/fleetforge/pkg/extsvc/rest"
	"github.com/fleetforge/fleetforge/pkg/utils/args"
	"github.com/fleetforge/fleetforge/pkg/utils/filewatch"
	"github.com/fleetforge/fleetforge/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	// call cancel() when this function exits
	defer cancel()

	// define command line flags
	//-- path to config file
	pconfig := flag.String(
		"config", os.Getenv("FLEETFORGE_BACKEND_CONFIG"), "path to config file",
	)
	//-- which loop type to run
	loopType := args.Parser(domain.AsLoopType)
	flag.Var(loopType, "type", "one of loop type")
	//-- loop policy
	policy := args.Parser(recurring.ParsePolicy)
	flag.Var(
		policy, "policy",
		`loop policy (syntax: forever[:COOLDOWN]|backlog).`+
			` "forever[:COOLDOWN]" = run forever until error. When backlog is over, `+
			`wait COOLDOWN (optional duration. default: 0) as inteval.`+
			` "backlog" = run until error or backlog is over.`,
	)
	// parse command line flags
	flag.Parse()

	{
		// watch config; a modified file ends this process so the supervisor
		// restarts it with the new one.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(configs.LoadBackendConfig(*pconfig)).OrFatal(logger)

	db := try.To(ffpg.New(ctx, conf.Database())).OrFatal(logger)
	defer db.Close()

	services := conf.Services()

	registry := extsvc.NewRegistry()
	registry.Register(extsvc.CapTraining, rest.NewJobService(services.Training()))
	registry.Register(extsvc.CapCompilation, rest.NewJobService(services.Compilation()))
	registry.Register(extsvc.CapPackaging, rest.NewJobService(services.Packaging()))
	registry.Register(extsvc.CapPublishing, rest.NewJobService(services.Publishing()))
	if labeling := services.Labeling(); labeling != "" {
		registry.Register(extsvc.CapLabeling, rest.NewJobService(labeling))
	}

	notifier := extsvc.Discard()
	if notify := services.Notify(); notify != "" {
		notifier = rest.NewNotifier(notify)
	}

	pipeline := conf.Pipeline()
	rolloutConf := conf.Rollout()

	collaborators := Collaborators{
		Database: db,
		Broker: credential.NewBroker(
			rest.NewIssuer(services.TokenService()),
			conf.Broker().RefreshMargin(),
			conf.Broker().MaxTTL(),
		),
		Registry: registry,
		Rollout:  rest.NewRolloutService(services.Rollout()),
		Notifier: extsvc.FireAndForget(notifier, logger),

		Recipients: conf.Notification().Recipients(),

		PollInterval: pipeline.PollInterval(),
		MaxAttempts:  pipeline.MaxAttempts(),
		BackoffBase:  pipeline.BackoffBase(),
		WaitBudget:   pipeline.WaitBudget(),
		Targets:      pipeline.Targets(),

		CanarySize:           rolloutConf.CanarySize(),
		FailureRateThreshold: rolloutConf.FailureRateThreshold(),
		PercentageStep:       rolloutConf.PercentageStep(),
		ObservationWindow:    rolloutConf.ObservationWindow(),
	}

	logger.Printf(
		`start loop "%s" /w policy "%s"`,
		loopType.Value().String(), policy.Value().String(),
	)

	err := StartLoop(
		ctx, logger, collaborators,
		LoopManifest{
			Type:   loopType.Value(),
			Policy: recurring.UntilError(policy.Value()),
		},
	)

	if err == nil {
		return
	} else if errors.Is(err, context.Canceled) {
		logger.Fatal(err, "(loop context is cancelled by:", context.Cause(ctx), ")")
	}

	logger.Fatal(err)
}
