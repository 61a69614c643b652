package main

import (
	"context"
	"log"
	"time"

	"github.com/fleetforge/fleetforge/cmd/loops/recurring"
	"github.com/fleetforge/fleetforge/cmd/loops/tasks/compilation"
	"github.com/fleetforge/fleetforge/cmd/loops/tasks/publishing"
	"github.com/fleetforge/fleetforge/cmd/loops/tasks/rollout"
	"github.com/fleetforge/fleetforge/cmd/loops/tasks/training"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	ffdb "github.com/fleetforge/fleetforge/pkg/domain/fleetforge/db"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
	"github.com/fleetforge/fleetforge/pkg/utils/loop"
)

type LoggerOptions func(*log.Logger) *log.Logger

func byLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

// Wrapper for monitoring loop tasks
//
//	Log the start and end of each time a task is executed. Essentially, it executes a task.
func monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	// counter for execution of the task
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Printf("task start: #0x%X: ", counter)

		defer func() {
			logger.Printf(
				"task end: #0x%X (takes %s): %s\n with value = %#v",
				counter, time.Since(timestamp), next, ret,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// Manifest for starting a loop, which determines how the loop should behave.
type LoopManifest struct {
	Type   domain.LoopType
	Policy recurring.Policy
}

// everything a loop task may need, built once in main.
type Collaborators struct {
	Database ffdb.FleetDatabase
	Broker   *credential.Broker
	Registry *extsvc.Registry
	Rollout  extsvc.RolloutService
	Notifier extsvc.Notifier

	Recipients []string

	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	WaitBudget   time.Duration

	Targets []domain.CompileTarget

	CanarySize           int
	FailureRateThreshold float64
	PercentageStep       int
	ObservationWindow    time.Duration
}

func StartTrainingLoop(
	ctx context.Context,
	logger *log.Logger,
	c Collaborators,
	manifest LoopManifest,
) error {
	l := byLogger(logger, Copied(), WithPrefix("[training loop]"))
	_, err := loop.Start(
		ctx, training.Seed(c.PollInterval),
		monitor(
			l,
			training.Task(l, training.Deps{
				Job:         c.Database.Job(),
				Tenant:      c.Database.Tenant(),
				Audit:       c.Database.Audit(),
				Broker:      c.Broker,
				Registry:    c.Registry,
				Notifier:    c.Notifier,
				Recipients:  c.Recipients,
				MaxAttempts: c.MaxAttempts,
				WaitBudget:  c.WaitBudget,
			}).Applied(manifest.Policy),
		),
	)
	return err
}

func StartCompilationLoop(
	ctx context.Context,
	logger *log.Logger,
	c Collaborators,
	manifest LoopManifest,
) error {
	l := byLogger(logger, Copied(), WithPrefix("[compilation loop]"))
	_, err := loop.Start(
		ctx, compilation.Seed(c.PollInterval),
		monitor(
			l,
			compilation.Task(l, compilation.Deps{
				Job:         c.Database.Job(),
				Tenant:      c.Database.Tenant(),
				Audit:       c.Database.Audit(),
				Broker:      c.Broker,
				Registry:    c.Registry,
				Notifier:    c.Notifier,
				Recipients:  c.Recipients,
				Targets:     c.Targets,
				MaxAttempts: c.MaxAttempts,
				WaitBudget:  c.WaitBudget,
			}).Applied(manifest.Policy),
		),
	)
	return err
}

func StartPublishingLoop(
	ctx context.Context,
	logger *log.Logger,
	c Collaborators,
	manifest LoopManifest,
) error {
	l := byLogger(logger, Copied(), WithPrefix("[publishing loop]"))
	_, err := loop.Start(
		ctx, publishing.Seed(c.PollInterval),
		monitor(
			l,
			publishing.Task(l, publishing.Deps{
				Job:         c.Database.Job(),
				Tenant:      c.Database.Tenant(),
				Component:   c.Database.Component(),
				Audit:       c.Database.Audit(),
				Broker:      c.Broker,
				Registry:    c.Registry,
				Notifier:    c.Notifier,
				Recipients:  c.Recipients,
				MaxAttempts: c.MaxAttempts,
				BackoffBase: c.BackoffBase,
				WaitBudget:  c.WaitBudget,
			}).Applied(manifest.Policy),
		),
	)
	return err
}

func StartRolloutLoop(
	ctx context.Context,
	logger *log.Logger,
	c Collaborators,
	manifest LoopManifest,
) error {
	l := byLogger(logger, Copied(), WithPrefix("[rollout loop]"))
	_, err := loop.Start(
		ctx, rollout.Seed(c.PollInterval),
		monitor(
			l,
			rollout.Task(l, rollout.Deps{
				Deployment:           c.Database.Deployment(),
				Tenant:               c.Database.Tenant(),
				Component:            c.Database.Component(),
				Audit:                c.Database.Audit(),
				Broker:               c.Broker,
				Rollout:              c.Rollout,
				Notifier:             c.Notifier,
				Recipients:           c.Recipients,
				CanarySize:           c.CanarySize,
				FailureRateThreshold: c.FailureRateThreshold,
				PercentageStep:       c.PercentageStep,
				ObservationWindow:    c.ObservationWindow,
			}).Applied(manifest.Policy),
		),
	)
	return err
}

// Start a loop specified the manifest
func StartLoop(
	ctx context.Context,
	logger *log.Logger,
	c Collaborators,
	manifest LoopManifest,
) error {
	switch manifest.Type {
	case domain.TrainingLoop:
		return StartTrainingLoop(ctx, logger, c, manifest)
	case domain.CompilationLoop:
		return StartCompilationLoop(ctx, logger, c, manifest)
	case domain.PublishingLoop:
		return StartPublishingLoop(ctx, logger, c, manifest)
	case domain.RolloutLoop:
		return StartRolloutLoop(ctx, logger, c, manifest)
	default:
		return domain.ErrUnknownLoopType
	}
}
