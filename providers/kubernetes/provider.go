package kubernetes

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/provisr-io/provisr/pkg/provider"
)

// loadBalancerPollInterval paces Status polling while a cloud load
// balancer is being provisioned for a Service.
const loadBalancerPollInterval = 10 * time.Second

// Provider creates Kubernetes objects against whichever cluster the
// resource's kubeconfig input points at. The kubeconfig arrives as a
// resource input rather than provider configuration because it is
// usually derived from a cluster created earlier in the same run.
type Provider struct {
	mu                sync.Mutex
	clients           map[string]k8s.Interface
	defaultKubeconfig string
	pollInterval      time.Duration

	// newClient builds a clientset from a kubeconfig document;
	// replaced by tests with a fake.
	newClient func(kubeconfig string) (k8s.Interface, error)
}

func New() *Provider {
	return &Provider{
		clients:      map[string]k8s.Interface{},
		pollInterval: loadBalancerPollInterval,
		newClient:    buildClient,
	}
}

func buildClient(kubeconfig string) (k8s.Interface, error) {
	restCfg, err := clientcmd.RESTConfigFromKubeConfig([]byte(kubeconfig))
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
	}
	return k8s.NewForConfig(restCfg)
}

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	if kc, ok := settings["kubeconfig"].(string); ok {
		p.defaultKubeconfig = kc
	}
	return nil
}

func (p *Provider) Kinds() []string {
	return []string{
		"kubernetes.Namespace",
		"kubernetes.Deployment",
		"kubernetes.Service",
	}
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	client, err := p.clientFor(req)
	if err != nil {
		return nil, provider.NewPermanent("configure-client", err)
	}

	switch req.Kind {
	case "kubernetes.Namespace":
		return p.createNamespace(ctx, client, req)
	case "kubernetes.Deployment":
		return p.createDeployment(ctx, client, req)
	case "kubernetes.Service":
		return p.createService(ctx, client, req)
	default:
		return nil, provider.NewPermanent("create", fmt.Errorf("unsupported kind %q", req.Kind))
	}
}

// clientFor returns a clientset for the resource's kubeconfig,
// caching by content hash so every object aimed at the same cluster
// shares one connection pool.
func (p *Provider) clientFor(req *provider.CreateRequest) (k8s.Interface, error) {
	kubeconfig, _ := req.Inputs["kubeconfig"].(string)
	if kubeconfig == "" {
		kubeconfig = p.defaultKubeconfig
	}
	if kubeconfig == "" {
		return nil, fmt.Errorf("resource %s.%s has no kubeconfig input and no provider default", req.Kind, req.Name)
	}

	sum := sha1.Sum([]byte(kubeconfig))
	key := hex.EncodeToString(sum[:])

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}
	client, err := p.newClient(kubeconfig)
	if err != nil {
		return nil, err
	}
	p.clients[key] = client
	return client, nil
}

type NamespaceConfig struct {
	Labels map[string]string `json:"labels"`
}

func (p *Provider) createNamespace(ctx context.Context, client k8s.Interface, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg NamespaceConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-namespace", err)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: req.Name, Labels: cfg.Labels},
	}
	created, err := client.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		created, err = client.CoreV1().Namespaces().Get(ctx, req.Name, metav1.GetOptions{})
	}
	if err != nil {
		return nil, classify("create-namespace", err)
	}

	return &provider.CreateResponse{Outputs: map[string]any{
		"name": created.Name,
	}}, nil
}

type DeploymentConfig struct {
	Namespace     string            `json:"namespace"`
	Labels        map[string]string `json:"labels"`
	Replicas      int32             `json:"replicas"`
	Image         string            `json:"image"`
	ContainerName string            `json:"containerName"`
	ContainerPort int32             `json:"containerPort"`
}

func (p *Provider) createDeployment(ctx context.Context, client k8s.Interface, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg DeploymentConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-deployment", err)
	}
	if cfg.Image == "" {
		return nil, provider.NewPermanent("create-deployment", fmt.Errorf("image is required"))
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = 1
	}
	containerName := cfg.ContainerName
	if containerName == "" {
		containerName = req.Name
	}

	container := corev1.Container{Name: containerName, Image: cfg.Image}
	if cfg.ContainerPort != 0 {
		container.Ports = []corev1.ContainerPort{{ContainerPort: cfg.ContainerPort}}
	}

	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.Name,
			Namespace: cfg.Namespace,
			Labels:    cfg.Labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &cfg.Replicas,
			Selector: &metav1.LabelSelector{MatchLabels: cfg.Labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: cfg.Labels},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{container}},
			},
		},
	}

	created, err := client.AppsV1().Deployments(cfg.Namespace).Create(ctx, dep, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		created, err = client.AppsV1().Deployments(cfg.Namespace).Get(ctx, req.Name, metav1.GetOptions{})
	}
	if err != nil {
		return nil, classify("create-deployment", err)
	}

	return &provider.CreateResponse{Outputs: map[string]any{
		"name":      created.Name,
		"namespace": created.Namespace,
	}}, nil
}

type ServiceConfig struct {
	Namespace  string            `json:"namespace"`
	Selector   map[string]string `json:"selector"`
	Type       string            `json:"type"`
	Port       int32             `json:"port"`
	TargetPort int32             `json:"targetPort"`
}

func (p *Provider) createService(ctx context.Context, client k8s.Interface, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg ServiceConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-service", err)
	}
	if cfg.Port == 0 {
		return nil, provider.NewPermanent("create-service", fmt.Errorf("port is required"))
	}

	port := corev1.ServicePort{Port: cfg.Port}
	if cfg.TargetPort != 0 {
		port.TargetPort = intstr.FromInt32(cfg.TargetPort)
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.Name,
			Namespace: cfg.Namespace,
			Labels:    cfg.Selector,
		},
		Spec: corev1.ServiceSpec{
			Selector: cfg.Selector,
			Type:     corev1.ServiceType(cfg.Type),
			Ports:    []corev1.ServicePort{port},
		},
	}

	created, err := client.CoreV1().Services(cfg.Namespace).Create(ctx, svc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		created, err = client.CoreV1().Services(cfg.Namespace).Get(ctx, req.Name, metav1.GetOptions{})
	}
	if err != nil {
		return nil, classify("create-service", err)
	}

	outputs := map[string]any{
		"name":      created.Name,
		"namespace": created.Namespace,
		"clusterIP": created.Spec.ClusterIP,
		"port":      cfg.Port,
	}

	if svc.Spec.Type == corev1.ServiceTypeLoadBalancer {
		hostname, err := p.waitForLoadBalancer(ctx, client, cfg.Namespace, req.Name)
		if err != nil {
			return nil, err
		}
		outputs["hostname"] = hostname
	}

	return &provider.CreateResponse{Outputs: outputs}, nil
}

// waitForLoadBalancer polls the Service status until the cloud
// controller publishes an ingress endpoint or ctx expires.
func (p *Provider) waitForLoadBalancer(ctx context.Context, client k8s.Interface, namespace, name string) (string, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		svc, err := client.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return "", classify("get-service", err)
		}
		for _, ingress := range svc.Status.LoadBalancer.Ingress {
			if ingress.Hostname != "" {
				return ingress.Hostname, nil
			}
			if ingress.IP != "" {
				return ingress.IP, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for load balancer of service %s/%s: %w", namespace, name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// classify maps apimachinery status errors onto retry classes. The
// API server's Retry-After suggestion is forwarded as a backoff hint.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err), apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err), apierrors.IsConflict(err):
		classified := provider.NewTransient(op, err)
		if seconds, ok := apierrors.SuggestsClientDelay(err); ok {
			classified = classified.WithRetryAfter(time.Duration(seconds) * time.Second)
		}
		return classified
	case apierrors.IsUnauthorized(err), apierrors.IsForbidden(err),
		apierrors.IsInvalid(err), apierrors.IsBadRequest(err),
		apierrors.IsNotFound(err):
		return provider.NewPermanent(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decode(inputs map[string]any, out any) error {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal inputs: %w", err)
	}
	return nil
}
