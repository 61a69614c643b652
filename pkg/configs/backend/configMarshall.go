package backend

import (
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/backend.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

type BackendConfigMarshall struct {
	Port         int32                       `yaml:"port"`
	Database     string                      `yaml:"database"`
	Auth         *AuthConfigMarshall         `yaml:"auth"`
	Broker       *BrokerConfigMarshall       `yaml:"broker"`
	Pipeline     *PipelineConfigMarshall     `yaml:"pipeline"`
	Rollout      *RolloutConfigMarshall      `yaml:"rollout"`
	Services     *ServicesConfigMarshall     `yaml:"services"`
	Notification *NotificationConfigMarshall `yaml:"notification,omitempty"`
}

var _ Marshalled[*BackendConfig] = &BackendConfigMarshall{}

func (b *BackendConfigMarshall) trySeal(path string) *BackendConfig {
	notification := b.Notification
	if notification == nil {
		notification = &NotificationConfigMarshall{}
	}
	return &BackendConfig{
		port:         required(b.Port, path+".port"),
		database:     required(b.Database, path+".database"),
		auth:         nonnil(b.Auth, path+".auth").trySeal(path + ".auth"),
		broker:       nonnil(b.Broker, path+".broker").trySeal(path + ".broker"),
		pipeline:     nonnil(b.Pipeline, path+".pipeline").trySeal(path + ".pipeline"),
		rollout:      nonnil(b.Rollout, path+".rollout").trySeal(path + ".rollout"),
		services:     nonnil(b.Services, path+".services").trySeal(path + ".services"),
		notification: notification.trySeal(path + ".notification"),
	}
}

type AuthConfigMarshall struct {
	SignKey     string            `yaml:"signKey"`
	RoleMapping map[string]string `yaml:"roleMapping"`
}

func (a *AuthConfigMarshall) trySeal(path string) *AuthConfig {
	mapping := map[string]domain.Role{}
	for group, role := range a.RoleMapping {
		r, err := domain.AsRole(role)
		if err != nil {
			panic(fmt.Errorf("%s.roleMapping[%s]: %w", path, group, err))
		}
		mapping[group] = r
	}
	return &AuthConfig{
		signKey:     required(a.SignKey, path+".signKey"),
		roleMapping: mapping,
	}
}

type BrokerConfigMarshall struct {
	MaxTTL        string  `yaml:"maxTTL"`
	RefreshMargin float64 `yaml:"refreshMargin,omitempty"`
}

func (b *BrokerConfigMarshall) trySeal(path string) *BrokerConfig {
	margin := b.RefreshMargin
	if margin == 0 {
		margin = 0.8
	}
	if margin <= 0 || 1 < margin {
		panic(fmt.Errorf("%s.refreshMargin must be in (0, 1]: %f", path, margin))
	}
	return &BrokerConfig{
		maxTTL:        duration(required(b.MaxTTL, path+".maxTTL"), path+".maxTTL"),
		refreshMargin: margin,
	}
}

type PipelineConfigMarshall struct {
	PollInterval string                  `yaml:"pollInterval"`
	MaxAttempts  int                     `yaml:"maxAttempts"`
	BackoffBase  string                  `yaml:"backoffBase"`
	WaitBudget   string                  `yaml:"waitBudget"`
	Targets      []CompileTargetMarshall `yaml:"targets"`
}

func (p *PipelineConfigMarshall) trySeal(path string) *PipelineConfig {
	if len(p.Targets) == 0 {
		panic(path + ".targets requires at least one target")
	}
	targets := make([]domain.CompileTarget, 0, len(p.Targets))
	for nth, t := range p.Targets {
		targets = append(targets, domain.CompileTarget{
			Name:     required(t.Name, fmt.Sprintf("%s.targets[%d].name", path, nth)),
			Platform: required(t.Platform, fmt.Sprintf("%s.targets[%d].platform", path, nth)),
		})
	}
	return &PipelineConfig{
		pollInterval: duration(required(p.PollInterval, path+".pollInterval"), path+".pollInterval"),
		maxAttempts:  required(p.MaxAttempts, path+".maxAttempts"),
		backoffBase:  duration(required(p.BackoffBase, path+".backoffBase"), path+".backoffBase"),
		waitBudget:   duration(required(p.WaitBudget, path+".waitBudget"), path+".waitBudget"),
		targets:      targets,
	}
}

type CompileTargetMarshall struct {
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
}

type RolloutConfigMarshall struct {
	CanarySize           int     `yaml:"canarySize"`
	FailureRateThreshold float64 `yaml:"failureRateThreshold"`
	PercentageStep       int     `yaml:"percentageStep"`
	ObservationWindow    string  `yaml:"observationWindow"`
}

func (r *RolloutConfigMarshall) trySeal(path string) *RolloutConfig {
	if r.FailureRateThreshold < 0 || 1 < r.FailureRateThreshold {
		panic(fmt.Errorf("%s.failureRateThreshold must be in [0, 1]: %f", path, r.FailureRateThreshold))
	}
	if r.PercentageStep <= 0 || 100 < r.PercentageStep {
		panic(fmt.Errorf("%s.percentageStep must be in (0, 100]: %d", path, r.PercentageStep))
	}
	return &RolloutConfig{
		canarySize:           required(r.CanarySize, path+".canarySize"),
		failureRateThreshold: r.FailureRateThreshold,
		percentageStep:       r.PercentageStep,
		observationWindow:    duration(required(r.ObservationWindow, path+".observationWindow"), path+".observationWindow"),
	}
}

type ServicesConfigMarshall struct {
	TokenService string `yaml:"tokenService"`
	Labeling     string `yaml:"labeling,omitempty"`
	Training     string `yaml:"training"`
	Compilation  string `yaml:"compilation"`
	Packaging    string `yaml:"packaging"`
	Publishing   string `yaml:"publishing"`
	Rollout      string `yaml:"rollout"`
	Notify       string `yaml:"notify,omitempty"`
}

func (s *ServicesConfigMarshall) trySeal(path string) *ServicesConfig {
	return &ServicesConfig{
		tokenService: required(s.TokenService, path+".tokenService"),
		labeling:     s.Labeling,
		training:     required(s.Training, path+".training"),
		compilation:  required(s.Compilation, path+".compilation"),
		packaging:    required(s.Packaging, path+".packaging"),
		publishing:   required(s.Publishing, path+".publishing"),
		rollout:      required(s.Rollout, path+".rollout"),
		notify:       s.Notify,
	}
}

type NotificationConfigMarshall struct {
	Recipients []string `yaml:"recipients,omitempty"`
}

func (n *NotificationConfigMarshall) trySeal(path string) *NotificationConfig {
	return &NotificationConfig{recipients: n.Recipients}
}

func duration(v string, path string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed: %w", path, err))
	}
	return d
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}
