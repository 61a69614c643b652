package backend_test

import (
	"testing"
	"time"

	kback "github.com/fleetforge/fleetforge/pkg/configs/backend"
	"github.com/fleetforge/fleetforge/pkg/domain"
)

func TestConfigMarshall(t *testing.T) {
	t.Run("it loads config from yaml: ", func(t *testing.T) {
		backendYml := []byte(`
port: 12345
database: postgres://forge-test-pgdb-svc:5432/forge
auth:
  signKey: fake-sign-key
  roleMapping:
    platform-admins: super-admin
    ml-team: scientist
    ops-team: operator
broker:
  maxTTL: 30m
  refreshMargin: 0.75
pipeline:
  pollInterval: 15s
  maxAttempts: 3
  backoffBase: 10s
  waitBudget: 1h
  targets:
    - name: edge-gpu
      platform: nvidia-orin
    - name: cloud
      platform: x86_64
rollout:
  canarySize: 2
  failureRateThreshold: 0.25
  percentageStep: 25
  observationWindow: 10m
services:
  tokenService: http://token-svc:8080
  training: http://training-svc:8080
  compilation: http://compilation-svc:8080
  packaging: http://packaging-svc:8080
  publishing: http://publishing-svc:8080
  rollout: http://rollout-svc:8080
notification:
  recipients:
    - ops@example.com
`)
		result, err := kback.Unmarshal(backendYml)

		if err != nil {
			t.Fatalf("failed to parse config.: %v", err)
		}

		t.Run(".port", func(t *testing.T) {
			actual := result.Port()
			expected := int32(12345)
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%d, %d)", expected, actual)
			}
		})

		t.Run(".database", func(t *testing.T) {
			actual := result.Database()
			expected := "postgres://forge-test-pgdb-svc:5432/forge"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".auth.signKey", func(t *testing.T) {
			actual := string(result.Auth().SignKey())
			expected := "fake-sign-key"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".auth.roleMapping", func(t *testing.T) {
			actual := result.Auth().RoleMapping()
			if actual["platform-admins"] != domain.SuperAdmin ||
				actual["ml-team"] != domain.Scientist ||
				actual["ops-team"] != domain.Operator {
				t.Errorf("unexpected mapping: %+v", actual)
			}
		})

		t.Run(".broker.maxTTL", func(t *testing.T) {
			actual := result.Broker().MaxTTL()
			expected := 30 * time.Minute
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%v, %v)", expected, actual)
			}
		})

		t.Run(".broker.refreshMargin", func(t *testing.T) {
			actual := result.Broker().RefreshMargin()
			expected := 0.75
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%f, %f)", expected, actual)
			}
		})

		t.Run(".pipeline.pollInterval", func(t *testing.T) {
			actual := result.Pipeline().PollInterval()
			expected := 15 * time.Second
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%v, %v)", expected, actual)
			}
		})

		t.Run(".pipeline.targets", func(t *testing.T) {
			actual := result.Pipeline().Targets()
			expected := []domain.CompileTarget{
				{Name: "edge-gpu", Platform: "nvidia-orin"},
				{Name: "cloud", Platform: "x86_64"},
			}
			if len(actual) != len(expected) {
				t.Fatalf("mismatch. (expected, actual) = (%v, %v)", expected, actual)
			}
			for nth := range expected {
				if actual[nth] != expected[nth] {
					t.Errorf("mismatch. (expected, actual) = (%v, %v)", expected[nth], actual[nth])
				}
			}
		})

		t.Run(".rollout.canarySize", func(t *testing.T) {
			actual := result.Rollout().CanarySize()
			expected := 2
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%d, %d)", expected, actual)
			}
		})

		t.Run(".rollout.observationWindow", func(t *testing.T) {
			actual := result.Rollout().ObservationWindow()
			expected := 10 * time.Minute
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%v, %v)", expected, actual)
			}
		})

		t.Run(".services.tokenService", func(t *testing.T) {
			actual := result.Services().TokenService()
			expected := "http://token-svc:8080"
			if actual != expected {
				t.Errorf("mismatch. (expected, actual) = (%s, %s)", expected, actual)
			}
		})

		t.Run(".services.labeling is optional", func(t *testing.T) {
			if actual := result.Services().Labeling(); actual != "" {
				t.Errorf("unexpected labeling endpoint: %s", actual)
			}
		})

		t.Run(".notification.recipients", func(t *testing.T) {
			actual := result.Notification().Recipients()
			if len(actual) != 1 || actual[0] != "ops@example.com" {
				t.Errorf("unexpected recipients: %+v", actual)
			}
		})
	})

	t.Run("it defaults the refresh margin when omitted", func(t *testing.T) {
		backendYml := []byte(`
port: 12345
database: postgres://forge-test-pgdb-svc:5432/forge
auth:
  signKey: fake-sign-key
broker:
  maxTTL: 30m
pipeline:
  pollInterval: 15s
  maxAttempts: 3
  backoffBase: 10s
  waitBudget: 1h
  targets:
    - name: cloud
      platform: x86_64
rollout:
  canarySize: 2
  failureRateThreshold: 0.25
  percentageStep: 25
  observationWindow: 10m
services:
  tokenService: http://token-svc:8080
  training: http://training-svc:8080
  compilation: http://compilation-svc:8080
  packaging: http://packaging-svc:8080
  publishing: http://publishing-svc:8080
  rollout: http://rollout-svc:8080
`)
		result, err := kback.Unmarshal(backendYml)
		if err != nil {
			t.Fatalf("failed to parse config.: %v", err)
		}
		if actual := result.Broker().RefreshMargin(); actual != 0.8 {
			t.Errorf("unexpected margin: %f", actual)
		}
	})

	t.Run("it rejects an unknown role in the mapping", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Errorf("sealing did not panic")
			}
		}()

		backendYml := []byte(`
port: 12345
database: postgres://forge-test-pgdb-svc:5432/forge
auth:
  signKey: fake-sign-key
  roleMapping:
    platform-admins: root
broker:
  maxTTL: 30m
pipeline:
  pollInterval: 15s
  maxAttempts: 3
  backoffBase: 10s
  waitBudget: 1h
  targets:
    - name: cloud
      platform: x86_64
rollout:
  canarySize: 2
  failureRateThreshold: 0.25
  percentageStep: 25
  observationWindow: 10m
services:
  tokenService: http://token-svc:8080
  training: http://training-svc:8080
  compilation: http://compilation-svc:8080
  packaging: http://packaging-svc:8080
  publishing: http://publishing-svc:8080
  rollout: http://rollout-svc:8080
`)
		_, _ = kback.Unmarshal(backendYml)
	})
}
