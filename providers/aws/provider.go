package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/provisr-io/provisr/pkg/provider"
)

// Provider creates AWS resources through the SDK v2 service clients.
// Clients are built lazily on first use so that unit tests and
// graph-only commands never touch credential resolution.
type Provider struct {
	mu        sync.Mutex
	region    string
	iamClient *iam.Client
	eksClient *eks.Client
	ec2Client *ec2.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	if region, ok := settings["region"].(string); ok {
		p.region = region
	}
	return nil
}

func (p *Provider) Kinds() []string {
	return []string{
		"aws.iam.Role",
		"aws.iam.RolePolicyAttachment",
		"aws.ec2.SecurityGroup",
		"aws.ec2.SecurityGroupRule",
		"aws.ec2.DefaultVpc",
		"aws.ec2.DefaultSubnets",
		"aws.eks.Cluster",
		"aws.eks.NodeGroup",
	}
}

func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.iamClient != nil && p.eksClient != nil && p.ec2Client != nil {
		return nil
	}

	opts := []func(*config.LoadOptions) error{}
	if p.region != "" {
		opts = append(opts, config.WithRegion(p.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load SDK config, %v", err)
	}

	p.iamClient = iam.NewFromConfig(cfg)
	p.eksClient = eks.NewFromConfig(cfg)
	p.ec2Client = ec2.NewFromConfig(cfg)
	return nil
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Kind {
	case "aws.iam.Role":
		return p.createRole(ctx, req)
	case "aws.iam.RolePolicyAttachment":
		return p.createRolePolicyAttachment(ctx, req)
	case "aws.ec2.SecurityGroup":
		return p.createSecurityGroup(ctx, req)
	case "aws.ec2.SecurityGroupRule":
		return p.createSecurityGroupRule(ctx, req)
	case "aws.ec2.DefaultVpc":
		return p.lookupDefaultVpc(ctx, req)
	case "aws.ec2.DefaultSubnets":
		return p.lookupDefaultSubnets(ctx, req)
	case "aws.eks.Cluster":
		return p.createCluster(ctx, req)
	case "aws.eks.NodeGroup":
		return p.createNodeGroup(ctx, req)
	default:
		return nil, provider.NewPermanent("create", fmt.Errorf("unsupported kind %q", req.Kind))
	}
}

// decode round-trips the loosely typed input map into a typed config
// struct so each resource handler works with real field types.
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
