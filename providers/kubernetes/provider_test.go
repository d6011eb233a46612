package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/provisr-io/provisr/pkg/provider"
)

func newFakeProvider(t *testing.T, objects ...runtime.Object) (*Provider, *fake.Clientset) {
	t.Helper()
	client := fake.NewClientset(objects...)
	p := New()
	p.pollInterval = 2 * time.Millisecond
	p.newClient = func(kubeconfig string) (k8s.Interface, error) {
		return client, nil
	}
	return p, client
}

func kubeReq(kind, name string, inputs map[string]any) *provider.CreateRequest {
	if inputs == nil {
		inputs = map[string]any{}
	}
	inputs["kubeconfig"] = "test-kubeconfig"
	return &provider.CreateRequest{Kind: kind, Name: name, Inputs: inputs}
}

func TestCreateNamespace(t *testing.T) {
	p, client := newFakeProvider(t)

	resp, err := p.Create(context.Background(), kubeReq("kubernetes.Namespace", "app-ns", map[string]any{
		"labels": map[string]any{"team": "platform"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "app-ns", resp.Outputs["name"])

	ns, err := client.CoreV1().Namespaces().Get(context.Background(), "app-ns", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "platform", ns.Labels["team"])
}

func TestCreateNamespaceAdoptsExisting(t *testing.T) {
	existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "app-ns"}}
	p, _ := newFakeProvider(t, existing)

	resp, err := p.Create(context.Background(), kubeReq("kubernetes.Namespace", "app-ns", nil))
	require.NoError(t, err)
	assert.Equal(t, "app-ns", resp.Outputs["name"])
}

func TestCreateDeployment(t *testing.T) {
	p, client := newFakeProvider(t)

	resp, err := p.Create(context.Background(), kubeReq("kubernetes.Deployment", "app-dep", map[string]any{
		"namespace": "app-ns",
		"labels":    map[string]any{"app": "web"},
		"replicas":  float64(3),
		"image":     "example/web:v2",
	}))
	require.NoError(t, err)
	assert.Equal(t, "app-dep", resp.Outputs["name"])
	assert.Equal(t, "app-ns", resp.Outputs["namespace"])

	dep, err := client.AppsV1().Deployments("app-ns").Get(context.Background(), "app-dep", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), *dep.Spec.Replicas)
	assert.Equal(t, "web", dep.Spec.Selector.MatchLabels["app"])
	require.Len(t, dep.Spec.Template.Spec.Containers, 1)
	assert.Equal(t, "example/web:v2", dep.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, "app-dep", dep.Spec.Template.Spec.Containers[0].Name)
}

func TestCreateDeploymentRequiresImage(t *testing.T) {
	p, _ := newFakeProvider(t)

	_, err := p.Create(context.Background(), kubeReq("kubernetes.Deployment", "app-dep", map[string]any{
		"namespace": "app-ns",
	}))
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestCreateLoadBalancerService(t *testing.T) {
	p, client := newFakeProvider(t)

	// Simulate the cloud controller publishing the ELB hostname as
	// soon as the object lands.
	client.PrependReactor("create", "services", func(action k8stesting.Action) (bool, runtime.Object, error) {
		svc := action.(k8stesting.CreateAction).GetObject().(*corev1.Service)
		svc.Status.LoadBalancer.Ingress = []corev1.LoadBalancerIngress{
			{Hostname: "abc123.elb.amazonaws.com"},
		}
		return false, nil, nil
	})

	resp, err := p.Create(context.Background(), kubeReq("kubernetes.Service", "app-svc", map[string]any{
		"namespace":  "app-ns",
		"selector":   map[string]any{"app": "web"},
		"type":       "LoadBalancer",
		"port":       float64(80),
		"targetPort": float64(8080),
	}))
	require.NoError(t, err)
	assert.Equal(t, "abc123.elb.amazonaws.com", resp.Outputs["hostname"])
	assert.Equal(t, int32(80), resp.Outputs["port"])
}

func TestCreateLoadBalancerServiceTimesOut(t *testing.T) {
	p, _ := newFakeProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Create(ctx, kubeReq("kubernetes.Service", "app-svc", map[string]any{
		"namespace": "app-ns",
		"type":      "LoadBalancer",
		"port":      float64(80),
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientCachedByKubeconfig(t *testing.T) {
	client := fake.NewClientset()
	calls := 0
	p := New()
	p.newClient = func(kubeconfig string) (k8s.Interface, error) {
		calls++
		return client, nil
	}

	for range 3 {
		_, err := p.Create(context.Background(), kubeReq("kubernetes.Namespace", "ns", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

func TestMissingKubeconfig(t *testing.T) {
	p := New()
	_, err := p.Create(context.Background(), &provider.CreateRequest{
		Kind: "kubernetes.Namespace", Name: "ns", Inputs: map[string]any{},
	})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestBuildKubeconfig(t *testing.T) {
	doc := BuildKubeconfig("https://ABC.gr7.us-west-2.eks.amazonaws.com", "Q0EgZGF0YQ==", "eks-cluster-12ab34cd")

	cfg, err := clientcmd.Load([]byte(doc))
	require.NoError(t, err)

	cluster, ok := cfg.Clusters["kubernetes"]
	require.True(t, ok)
	assert.Equal(t, "https://ABC.gr7.us-west-2.eks.amazonaws.com", cluster.Server)
	assert.Equal(t, []byte("CA data"), cluster.CertificateAuthorityData)

	assert.Equal(t, "aws", cfg.CurrentContext)
	user, ok := cfg.AuthInfos["aws"]
	require.True(t, ok)
	require.NotNil(t, user.Exec)
	assert.Equal(t, "aws-iam-authenticator", user.Exec.Command)
	assert.Contains(t, user.Exec.Args, "eks-cluster-12ab34cd")
}
