package backend

import (
	"time"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type BackendConfig struct {
	port         int32
	database     string
	auth         *AuthConfig
	broker       *BrokerConfig
	pipeline     *PipelineConfig
	rollout      *RolloutConfig
	services     *ServicesConfig
	notification *NotificationConfig
}

func (c *BackendConfig) Port() int32 {
	return c.port
}

// Connection string for database.
func (c *BackendConfig) Database() string {
	return c.database
}

func (c *BackendConfig) Auth() *AuthConfig {
	return c.auth
}

func (c *BackendConfig) Broker() *BrokerConfig {
	return c.broker
}

func (c *BackendConfig) Pipeline() *PipelineConfig {
	return c.pipeline
}

func (c *BackendConfig) Rollout() *RolloutConfig {
	return c.rollout
}

func (c *BackendConfig) Services() *ServicesConfig {
	return c.services
}

func (c *BackendConfig) Notification() *NotificationConfig {
	return c.notification
}

// Configuration for token verification and role mapping.
//
// to get `AuthConfig` instance, use `AuthConfigMarshall.trySeal()` via
// `TrySeal` on the root config.
type AuthConfig struct {
	signKey     string
	roleMapping map[string]domain.Role
}

// HMAC-SHA256 key the identity provider signs tokens with.
func (a *AuthConfig) SignKey() []byte {
	return []byte(a.signKey)
}

// identity-provider group -> role. Groups not listed resolve to Viewer.
func (a *AuthConfig) RoleMapping() map[string]domain.Role {
	mapping := map[string]domain.Role{}
	for group, role := range a.roleMapping {
		mapping[group] = role
	}
	return mapping
}

// Configuration for the credential broker.
type BrokerConfig struct {
	maxTTL        time.Duration
	refreshMargin float64
}

// hard cap on a session's lifetime, whatever the issuer granted.
func (b *BrokerConfig) MaxTTL() time.Duration {
	return b.maxTTL
}

// fraction of a session's lifetime after which it is refreshed.
func (b *BrokerConfig) RefreshMargin() float64 {
	return b.refreshMargin
}

// Configuration for pipeline stage driving.
type PipelineConfig struct {
	pollInterval time.Duration
	maxAttempts  int
	backoffBase  time.Duration
	waitBudget   time.Duration
	targets      []domain.CompileTarget
}

// minimum interval between polls of one external job.
func (p *PipelineConfig) PollInterval() time.Duration {
	return p.pollInterval
}

// submission attempts per stage before giving up.
func (p *PipelineConfig) MaxAttempts() int {
	return p.maxAttempts
}

// base of the exponential backoff between attempts.
func (p *PipelineConfig) BackoffBase() time.Duration {
	return p.backoffBase
}

// how long a stage may wait on an external job before failing with timeout.
func (p *PipelineConfig) WaitBudget() time.Duration {
	return p.waitBudget
}

// administrator-configured compile targets.
func (p *PipelineConfig) Targets() []domain.CompileTarget {
	targets := make([]domain.CompileTarget, len(p.targets))
	copy(targets, p.targets)
	return targets
}

// Configuration for deployment rollout strategies.
type RolloutConfig struct {
	canarySize           int
	failureRateThreshold float64
	percentageStep       int
	observationWindow    time.Duration
}

// how many devices the canary stage covers.
func (r *RolloutConfig) CanarySize() int {
	return r.canarySize
}

// failure rate above which a rollout is halted for operator action.
func (r *RolloutConfig) FailureRateThreshold() float64 {
	return r.failureRateThreshold
}

// percent of the device set added per stage of the percentage strategy.
func (r *RolloutConfig) PercentageStep() int {
	return r.percentageStep
}

// how long a stage is observed before the threshold rule is applied.
func (r *RolloutConfig) ObservationWindow() time.Duration {
	return r.observationWindow
}

// endpoints of the external collaborators.
type ServicesConfig struct {
	tokenService string
	labeling     string
	training     string
	compilation  string
	packaging    string
	publishing   string
	rollout      string
	notify       string
}

func (s *ServicesConfig) TokenService() string {
	return s.tokenService
}

// empty when no labeling service is deployed.
func (s *ServicesConfig) Labeling() string {
	return s.labeling
}

func (s *ServicesConfig) Training() string {
	return s.training
}

func (s *ServicesConfig) Compilation() string {
	return s.compilation
}

func (s *ServicesConfig) Packaging() string {
	return s.packaging
}

func (s *ServicesConfig) Publishing() string {
	return s.publishing
}

func (s *ServicesConfig) Rollout() string {
	return s.rollout
}

// empty when notifications go nowhere.
func (s *ServicesConfig) Notify() string {
	return s.notify
}

type NotificationConfig struct {
	recipients []string
}

func (n *NotificationConfig) Recipients() []string {
	recipients := make([]string, len(n.recipients))
	copy(recipients, n.recipients)
	return recipients
}
