// Package kubernetes implements provider.Provider by provisioning one
// dedicated sandbox pod per session through agent-sandbox SandboxClaim
// CRDs. The pod runs sandbox-server; once it is ready the provisioner
// opens a session on it over the REST protocol. Killing the session
// deletes the claim, which tears the pod down.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/sandpit-dev/sandpit/pkg/provider"
	"github.com/sandpit-dev/sandpit/pkg/provider/rest"
)

var _ provider.Provider = (*Provisioner)(nil)

const pollInterval = 500 * time.Millisecond

// Config holds settings for the SandboxClaim provisioner.
type Config struct {
	// Template is the SandboxTemplate CRD name pods are created from.
	Template string

	// Namespace is the Kubernetes namespace for SandboxClaims.
	Namespace string

	// Token is the bearer token sandbox-server pods require.
	Token string

	// ProvisionTimeout bounds how long to wait for a claimed Sandbox to
	// become ready.
	ProvisionTimeout time.Duration
}

// Provisioner creates one SandboxClaim per session and speaks the REST
// session protocol to the resulting pod.
type Provisioner struct {
	client client.Client
	cfg    Config
}

// NewProvisioner creates a Provisioner. A missing token is a configuration
// error surfaced here, before any claim is created.
func NewProvisioner(c client.Client, cfg Config) (*Provisioner, error) {
	if cfg.Token == "" {
		return nil, provider.ErrMissingToken
	}
	if cfg.Template == "" {
		return nil, errors.New("kubernetes: sandbox template is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.ProvisionTimeout == 0 {
		cfg.ProvisionTimeout = 60 * time.Second
	}
	return &Provisioner{client: c, cfg: cfg}, nil
}

// NewScheme builds a runtime.Scheme covering the two agent-sandbox API
// groups the provisioner touches.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	for _, add := range []func(*runtime.Scheme) error{
		sandboxv1alpha1.AddToScheme,
		extensionsv1alpha1.AddToScheme,
	} {
		if err := add(scheme); err != nil {
			return nil, fmt.Errorf("building sandbox scheme: %w", err)
		}
	}
	return scheme, nil
}

// Create provisions a pod via a SandboxClaim, waits for it to become ready,
// and opens a session on it. The claim is cleaned up on any failure and
// when the returned session is killed.
func (p *Provisioner) Create(ctx context.Context, opts provider.CreateOptions) (provider.Sandbox, error) {
	name := generateClaimNameFn()
	claim := p.newClaim(name)
	claim.Spec.TemplateRef = extensionsv1alpha1.SandboxTemplateRef{Name: p.cfg.Template}

	if err := p.client.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	slog.Debug("claim created", "claim", name, "namespace", p.cfg.Namespace, "template", p.cfg.Template)

	fqdn, err := p.awaitReady(ctx, name)
	if err != nil {
		p.deleteClaim(context.Background(), name)
		return nil, err
	}

	podURL := podURLFn(fqdn)
	restClient, err := rest.New(rest.Config{BaseURL: podURL, Token: p.cfg.Token})
	if err != nil {
		p.deleteClaim(context.Background(), name)
		return nil, err
	}

	sb, err := restClient.Create(ctx, opts)
	if err != nil {
		p.deleteClaim(context.Background(), name)
		return nil, fmt.Errorf("open session on %s: %w", podURL, err)
	}

	slog.Debug("sandbox provisioned", "claim", name, "url", podURL)
	return &podSession{Sandbox: sb, provisioner: p, claimName: name}, nil
}

func (p *Provisioner) newClaim(name string) *extensionsv1alpha1.SandboxClaim {
	return &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: p.cfg.Namespace},
	}
}

// podSession wraps the REST session so that Kill also deletes the claim
// backing the pod.
type podSession struct {
	provider.Sandbox
	provisioner *Provisioner
	claimName   string
}

// Kill terminates the remote session and releases the SandboxClaim. Claim
// deletion happens even when the session terminate call fails, because the
// pod is dedicated to this session.
func (s *podSession) Kill(ctx context.Context) error {
	err := s.Sandbox.Kill(ctx)
	s.provisioner.deleteClaim(context.Background(), s.claimName)
	return err
}

// awaitReady polls the Sandbox resource named after the claim until its
// Ready condition turns True and its service FQDN is populated.
func (p *Provisioner) awaitReady(ctx context.Context, name string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ProvisionTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	key := types.NamespacedName{Name: name, Namespace: p.cfg.Namespace}
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", fmt.Errorf("waiting for Sandbox %q: %w", name, ctx.Err())
			}
			return "", fmt.Errorf("Sandbox %q not ready after %s", name, p.cfg.ProvisionTimeout)
		case <-ticker.C:
			var sandbox sandboxv1alpha1.Sandbox
			if err := p.client.Get(waitCtx, key, &sandbox); err != nil {
				// The controller may not have created the Sandbox yet.
				slog.Debug("sandbox not up yet", "claim", name, "error", err.Error())
				continue
			}
			if fqdn := sandbox.Status.ServiceFQDN; isReady(&sandbox) && fqdn != "" {
				return fqdn, nil
			}
		}
	}
}

func isReady(sandbox *sandboxv1alpha1.Sandbox) bool {
	want := string(sandboxv1alpha1.SandboxConditionReady)
	for _, cond := range sandbox.Status.Conditions {
		if cond.Type == want {
			return cond.Status == metav1.ConditionTrue
		}
	}
	return false
}

// deleteClaim releases a SandboxClaim on cleanup paths. Failures are only
// logged; the caller is already unwinding.
func (p *Provisioner) deleteClaim(ctx context.Context, name string) {
	if err := p.client.Delete(ctx, p.newClaim(name)); err != nil {
		slog.Warn("claim delete failed", "claim", name, "namespace", p.cfg.Namespace, "error", err.Error())
		return
	}
	slog.Debug("claim deleted", "claim", name, "namespace", p.cfg.Namespace)
}

// Stubbed in tests for deterministic claim names and a local pod address.
var (
	generateClaimNameFn = func() string {
		return fmt.Sprintf("sandpit-%d", time.Now().UnixNano())
	}
	podURLFn = func(serviceFQDN string) string {
		return fmt.Sprintf("http://%s:8080", serviceFQDN)
	}
)
