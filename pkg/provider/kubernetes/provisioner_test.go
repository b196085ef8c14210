package kubernetes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/sandpit-dev/sandpit/pkg/provider"
)

// newCluster builds a fake cluster client and a Provisioner against it,
// with claim names pinned to claimName for the duration of the test.
func newCluster(t *testing.T, claimName string, timeout time.Duration) (client.Client, *Provisioner) {
	t.Helper()

	scheme, err := NewScheme()
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&sandboxv1alpha1.Sandbox{}).
		Build()

	prov, err := NewProvisioner(c, Config{
		Template:         "test-template",
		Namespace:        "default",
		Token:            "test-token",
		ProvisionTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}

	orig := generateClaimNameFn
	generateClaimNameFn = func() string { return claimName }
	t.Cleanup(func() { generateClaimNameFn = orig })

	return c, prov
}

// markReady plays the part of the agent-sandbox controller: it creates
// the Sandbox resource for a claim and flips its Ready condition.
func markReady(t *testing.T, c client.Client, name, fqdn string) {
	t.Helper()

	sandbox := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
	}
	if err := c.Create(context.Background(), sandbox); err != nil {
		t.Fatalf("markReady: create sandbox: %v", err)
	}

	sandbox.Status.ServiceFQDN = fqdn
	sandbox.Status.Conditions = []metav1.Condition{{
		Type:               string(sandboxv1alpha1.SandboxConditionReady),
		Status:             metav1.ConditionTrue,
		LastTransitionTime: metav1.Now(),
		Reason:             "Ready",
	}}
	if err := c.Status().Update(context.Background(), sandbox); err != nil {
		t.Fatalf("markReady: update status: %v", err)
	}
}

// claimExists reports whether the SandboxClaim is still in the cluster.
func claimExists(c client.Client, name string) bool {
	claim := &extensionsv1alpha1.SandboxClaim{}
	err := c.Get(context.Background(), client.ObjectKey{Name: name, Namespace: "default"}, claim)
	return err == nil
}

// fakePodServer runs an httptest server speaking just enough of the
// sandbox-server session protocol and rewires podURLFn to reach it.
func fakePodServer(t *testing.T) (*httptest.Server, *bool) {
	t.Helper()
	killed := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sessions":
			json.NewEncoder(w).Encode(map[string]string{"session_id": "remote-pod-1"})
		case r.Method == http.MethodDelete:
			killed = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	origURL := podURLFn
	podURLFn = func(string) string { return srv.URL }
	t.Cleanup(func() { podURLFn = origURL })

	return srv, &killed
}

func TestProvisionerCreateAndKill(t *testing.T) {
	c, prov := newCluster(t, "test-claim-001", 5*time.Second)
	_, killed := fakePodServer(t)

	go func() {
		time.Sleep(200 * time.Millisecond)
		markReady(t, c, "test-claim-001", "sandbox-001.default.svc.cluster.local")
	}()

	sb, err := prov.Create(context.Background(), provider.CreateOptions{IdleTimeoutSeconds: 300})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	claim := &extensionsv1alpha1.SandboxClaim{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: "test-claim-001", Namespace: "default"}, claim); err != nil {
		t.Fatalf("SandboxClaim not found: %v", err)
	}
	if claim.Spec.TemplateRef.Name != "test-template" {
		t.Errorf("templateRef = %q, want test-template", claim.Spec.TemplateRef.Name)
	}

	// Kill terminates the remote session and deletes the claim.
	if err := sb.Kill(context.Background()); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !*killed {
		t.Error("remote session was not terminated")
	}
	if claimExists(c, "test-claim-001") {
		t.Error("SandboxClaim survived Kill, expected deletion")
	}
}

func TestProvisionerRequiresToken(t *testing.T) {
	scheme, err := NewScheme()
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	c := fake.NewClientBuilder().WithScheme(scheme).Build()

	if _, err := NewProvisioner(c, Config{Template: "t", Namespace: "default"}); !errors.Is(err, provider.ErrMissingToken) {
		t.Errorf("err = %v, want ErrMissingToken", err)
	}
}

func TestProvisionerTimeoutCleansUpClaim(t *testing.T) {
	// No Sandbox resource ever appears, so provisioning must time out.
	c, prov := newCluster(t, "test-claim-timeout", 1*time.Second)

	if _, err := prov.Create(context.Background(), provider.CreateOptions{}); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if claimExists(c, "test-claim-timeout") {
		t.Error("SandboxClaim survived the timeout, expected cleanup")
	}
}

func TestProvisionerCancelCleansUpClaim(t *testing.T) {
	c, prov := newCluster(t, "test-claim-cancel", 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	if _, err := prov.Create(ctx, provider.CreateOptions{}); err == nil {
		t.Fatal("expected context cancellation error, got nil")
	}
	if claimExists(c, "test-claim-cancel") {
		t.Error("SandboxClaim survived the cancel, expected cleanup")
	}
}

func TestIsReady(t *testing.T) {
	ready := func(status metav1.ConditionStatus) []metav1.Condition {
		return []metav1.Condition{{Type: string(sandboxv1alpha1.SandboxConditionReady), Status: status}}
	}

	tests := []struct {
		name       string
		conditions []metav1.Condition
		want       bool
	}{
		{"no conditions", nil, false},
		{"ready true", ready(metav1.ConditionTrue), true},
		{"ready false", ready(metav1.ConditionFalse), false},
		{"other condition only", []metav1.Condition{{Type: "Available", Status: metav1.ConditionTrue}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sandbox := &sandboxv1alpha1.Sandbox{
				Status: sandboxv1alpha1.SandboxStatus{Conditions: tt.conditions},
			}
			if got := isReady(sandbox); got != tt.want {
				t.Errorf("isReady() = %v, want %v", got, tt.want)
			}
		})
	}
}
