// Package rest holds HTTP clients for the external collaborators: the token
// service, the asynchronous job services, the device deployment service, and
// the notification channel.
//
// All of them speak plain JSON over HTTP. A tenant-scoped call unwraps its
// token via Session.Use, so the tenant/session binding is enforced before any
// request leaves the process.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
	"github.com/fleetforge/fleetforge/pkg/utils/slices"
)

type client struct {
	api string
	hc  *http.Client
}

type Option func(*client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.hc = hc
	}
}

func newClient(baseUrl string, options ...Option) client {
	c := client{
		api: strings.TrimSuffix(baseUrl, "/"),
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range options {
		o(&c)
	}
	return c
}

func (c *client) apipath(path ...string) string {
	path = slices.Map(path, func(p string) string {
		return strings.TrimPrefix(strings.TrimSuffix(p, "/"), "/")
	})
	return strings.Join(append([]string{c.api}, path...), "/")
}

// exchange sends one JSON request and decodes the JSON response into out.
// A nil out discards the body. Non-2xx responses become errors carrying the
// server's message.
func (c *client) exchange(
	ctx context.Context, method string, url string, token string,
	body any, out any,
) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if 300 <= resp.StatusCode {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf(
			"%s %s: status %d: %s",
			method, url, resp.StatusCode, strings.TrimSpace(string(message)),
		)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type issuer struct {
	client
}

// NewIssuer returns a credential.Issuer backed by the external token service.
func NewIssuer(baseUrl string, options ...Option) credential.Issuer {
	return &issuer{client: newClient(baseUrl, options...)}
}

type issueRequest struct {
	TenantId          string `json:"tenantId"`
	AccountId         string `json:"accountId"`
	Region            string `json:"region"`
	ExternalId        string `json:"externalId"`
	TrustScopeVersion int    `json:"trustScopeVersion"`
}

type issueResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (i *issuer) Issue(ctx context.Context, tenant domain.Tenant) (credential.Token, error) {
	var resp issueResponse
	err := i.exchange(
		ctx, http.MethodPost, i.apipath("tokens"), "",
		issueRequest{
			TenantId:          tenant.Id,
			AccountId:         tenant.Environment.AccountId,
			Region:            tenant.Environment.Region,
			ExternalId:        tenant.TrustScope.ExternalId,
			TrustScopeVersion: tenant.TrustScope.Version,
		},
		&resp,
	)
	if err != nil {
		return credential.Token{}, err
	}
	return credential.Token{Value: resp.Token, ExpiresAt: resp.ExpiresAt}, nil
}

type jobService struct {
	client
}

// NewJobService returns an extsvc.JobService speaking to one job service
// endpoint. Register the same constructor under each capability the service
// provides.
func NewJobService(baseUrl string, options ...Option) extsvc.JobService {
	return &jobService{client: newClient(baseUrl, options...)}
}

type submitRequest struct {
	TenantId          string   `json:"tenantId"`
	JobId             string   `json:"jobId"`
	InputLocation     string   `json:"inputLocation,omitempty"`
	TargetName        string   `json:"targetName,omitempty"`
	Platform          string   `json:"platform,omitempty"`
	ArtifactLocations []string `json:"artifactLocations,omitempty"`
	ComponentName     string   `json:"componentName,omitempty"`
	PackageRef        string   `json:"packageRef,omitempty"`
}

type submitResponse struct {
	Ref string `json:"ref"`
}

type pollResponse struct {
	Done           bool   `json:"done"`
	Succeeded      bool   `json:"succeeded"`
	ResultLocation string `json:"resultLocation"`
	Reason         string `json:"reason"`
	Transient      bool   `json:"transient"`
}

func (j *jobService) Submit(
	ctx context.Context, sess *credential.Session, sub extsvc.Submission,
) (string, error) {
	var resp submitResponse
	err := sess.Use(ctx, sub.TenantId, func(ctx context.Context, token string) error {
		return j.exchange(
			ctx, http.MethodPost, j.apipath("jobs"), token,
			submitRequest(sub), &resp,
		)
	})
	if err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (j *jobService) Poll(
	ctx context.Context, sess *credential.Session, tenantId string, externalRef string,
) (extsvc.Report, error) {
	var resp pollResponse
	err := sess.Use(ctx, tenantId, func(ctx context.Context, token string) error {
		return j.exchange(
			ctx, http.MethodGet, j.apipath("jobs", externalRef), token, nil, &resp,
		)
	})
	if err != nil {
		return extsvc.Report{}, err
	}
	return extsvc.Report{
		Done: resp.Done,
		Outcome: domain.CompletionOutcome{
			Succeeded:      resp.Succeeded,
			ResultLocation: resp.ResultLocation,
			Reason:         resp.Reason,
			Transient:      resp.Transient,
		},
	}, nil
}

type rolloutService struct {
	client
}

// NewRolloutService returns an extsvc.RolloutService backed by the external
// device deployment service.
func NewRolloutService(baseUrl string, options ...Option) extsvc.RolloutService {
	return &rolloutService{client: newClient(baseUrl, options...)}
}

type createRolloutRequest struct {
	TenantId     string   `json:"tenantId"`
	ComponentRef string   `json:"componentRef"`
	Devices      []string `json:"devices"`
}

type createRolloutResponse struct {
	Ref string `json:"ref"`
}

type rolloutStatusResponse struct {
	Devices map[string]struct {
		State  string `json:"state"`
		Reason string `json:"reason"`
	} `json:"devices"`
}

func (r *rolloutService) CreateRollout(
	ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec,
) (string, error) {
	var resp createRolloutResponse
	err := sess.Use(ctx, spec.TenantId, func(ctx context.Context, token string) error {
		return r.exchange(
			ctx, http.MethodPost, r.apipath("rollouts"), token,
			createRolloutRequest(spec), &resp,
		)
	})
	if err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (r *rolloutService) GetStatus(
	ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string,
) (map[string]extsvc.DeviceReport, error) {
	var resp rolloutStatusResponse
	err := sess.Use(ctx, tenantId, func(ctx context.Context, token string) error {
		return r.exchange(
			ctx, http.MethodGet, r.apipath("rollouts", rolloutRef), token, nil, &resp,
		)
	})
	if err != nil {
		return nil, err
	}

	reports := map[string]extsvc.DeviceReport{}
	for device, d := range resp.Devices {
		state, err := domain.AsDeviceState(d.State)
		if err != nil {
			return nil, err
		}
		reports[device] = extsvc.DeviceReport{State: state, Reason: d.Reason}
	}
	return reports, nil
}

func (r *rolloutService) Cancel(
	ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string,
) error {
	return sess.Use(ctx, tenantId, func(ctx context.Context, token string) error {
		return r.exchange(
			ctx, http.MethodDelete, r.apipath("rollouts", rolloutRef), token, nil, nil,
		)
	})
}

type notifier struct {
	client
}

// NewNotifier returns an extsvc.Notifier posting to the notification channel.
// Wrap it in extsvc.FireAndForget where a lost notification must not fail the
// caller.
func NewNotifier(baseUrl string, options ...Option) extsvc.Notifier {
	return &notifier{client: newClient(baseUrl, options...)}
}

type notifyRequest struct {
	TenantId   string   `json:"tenantId"`
	Subject    string   `json:"subject"`
	Reference  string   `json:"reference"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

func (n *notifier) Notify(ctx context.Context, event extsvc.Event, recipients []string) error {
	return n.exchange(
		ctx, http.MethodPost, n.apipath("notifications"), "",
		notifyRequest{
			TenantId:   event.TenantId,
			Subject:    event.Subject,
			Reference:  event.Reference,
			Message:    event.Message,
			Recipients: recipients,
		},
		nil,
	)
}
