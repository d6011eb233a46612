package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/provisr-io/provisr/pkg/provider"
)

// EKS control planes take several minutes to come up; poll at a
// coarse interval until the API reports ACTIVE.
const clusterPollInterval = 15 * time.Second

type ClusterVpcConfig struct {
	SubnetIds             []string `json:"subnetIds"`
	SecurityGroupIds      []string `json:"securityGroupIds"`
	EndpointPublicAccess  bool     `json:"endpointPublicAccess"`
	EndpointPrivateAccess bool     `json:"endpointPrivateAccess"`
	PublicAccessCidrs     []string `json:"publicAccessCidrs"`
}

type ClusterConfig struct {
	RoleArn   string            `json:"roleArn"`
	Version   string            `json:"version"`
	VpcConfig ClusterVpcConfig  `json:"vpcConfig"`
	Tags      map[string]string `json:"tags"`
}

func (p *Provider) createCluster(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg ClusterConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-cluster", err)
	}
	if cfg.RoleArn == "" {
		return nil, provider.NewPermanent("create-cluster", fmt.Errorf("roleArn is required"))
	}
	if len(cfg.VpcConfig.SubnetIds) == 0 {
		return nil, provider.NewPermanent("create-cluster", fmt.Errorf("vpcConfig.subnetIds is required"))
	}

	input := &eks.CreateClusterInput{
		Name:    &req.Name,
		RoleArn: &cfg.RoleArn,
		ResourcesVpcConfig: &types.VpcConfigRequest{
			SubnetIds:             cfg.VpcConfig.SubnetIds,
			SecurityGroupIds:      cfg.VpcConfig.SecurityGroupIds,
			EndpointPublicAccess:  &cfg.VpcConfig.EndpointPublicAccess,
			EndpointPrivateAccess: &cfg.VpcConfig.EndpointPrivateAccess,
		},
		Tags: cfg.Tags,
	}
	if len(cfg.VpcConfig.PublicAccessCidrs) > 0 {
		input.ResourcesVpcConfig.PublicAccessCidrs = cfg.VpcConfig.PublicAccessCidrs
	}
	if cfg.Version != "" {
		input.Version = &cfg.Version
	}

	_, err := p.eksClient.CreateCluster(ctx, input)
	if err != nil && errorCode(err) != "ResourceInUseException" {
		return nil, classify("create-cluster", err)
	}

	cluster, err := p.waitForCluster(ctx, req.Name)
	if err != nil {
		return nil, err
	}

	outputs := map[string]any{
		"name": *cluster.Name,
		"arn":  *cluster.Arn,
	}
	if cluster.Endpoint != nil {
		outputs["endpoint"] = *cluster.Endpoint
	}
	if cluster.Version != nil {
		outputs["version"] = *cluster.Version
	}
	if cluster.CertificateAuthority != nil && cluster.CertificateAuthority.Data != nil {
		outputs["certificateAuthority"] = *cluster.CertificateAuthority.Data
	}
	return &provider.CreateResponse{Outputs: outputs}, nil
}

// waitForCluster polls DescribeCluster until the control plane is
// ACTIVE, the cluster enters a failed state, or ctx expires.
func (p *Provider) waitForCluster(ctx context.Context, name string) (*types.Cluster, error) {
	ticker := time.NewTicker(clusterPollInterval)
	defer ticker.Stop()

	for {
		resp, err := p.eksClient.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: &name})
		if err != nil {
			return nil, classify("describe-cluster", err)
		}

		switch resp.Cluster.Status {
		case types.ClusterStatusActive:
			return resp.Cluster, nil
		case types.ClusterStatusFailed:
			return nil, provider.NewPermanent("describe-cluster", fmt.Errorf("cluster %s entered FAILED state", name))
		case types.ClusterStatusDeleting:
			return nil, provider.NewPermanent("describe-cluster", fmt.Errorf("cluster %s is being deleted", name))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for cluster %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

type NodeGroupScalingConfig struct {
	DesiredSize int32 `json:"desiredSize"`
	MaxSize     int32 `json:"maxSize"`
	MinSize     int32 `json:"minSize"`
}

type NodeGroupConfig struct {
	ClusterName   string                 `json:"clusterName"`
	NodeRoleArn   string                 `json:"nodeRoleArn"`
	SubnetIds     []string               `json:"subnetIds"`
	InstanceTypes []string               `json:"instanceTypes"`
	ScalingConfig NodeGroupScalingConfig `json:"scalingConfig"`
	Labels        map[string]string      `json:"labels"`
	Tags          map[string]string      `json:"tags"`
}

func (p *Provider) createNodeGroup(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg NodeGroupConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-nodegroup", err)
	}
	if cfg.ClusterName == "" || cfg.NodeRoleArn == "" {
		return nil, provider.NewPermanent("create-nodegroup", fmt.Errorf("clusterName and nodeRoleArn are required"))
	}

	input := &eks.CreateNodegroupInput{
		ClusterName:   &cfg.ClusterName,
		NodegroupName: &req.Name,
		NodeRole:      &cfg.NodeRoleArn,
		Subnets:       cfg.SubnetIds,
		InstanceTypes: cfg.InstanceTypes,
		Labels:        cfg.Labels,
		Tags:          cfg.Tags,
		ScalingConfig: &types.NodegroupScalingConfig{
			DesiredSize: &cfg.ScalingConfig.DesiredSize,
			MaxSize:     &cfg.ScalingConfig.MaxSize,
			MinSize:     &cfg.ScalingConfig.MinSize,
		},
	}

	_, err := p.eksClient.CreateNodegroup(ctx, input)
	if err != nil && errorCode(err) != "ResourceInUseException" {
		return nil, classify("create-nodegroup", err)
	}

	ticker := time.NewTicker(clusterPollInterval)
	defer ticker.Stop()
	for {
		resp, err := p.eksClient.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   &cfg.ClusterName,
			NodegroupName: &req.Name,
		})
		if err != nil {
			return nil, classify("describe-nodegroup", err)
		}

		switch resp.Nodegroup.Status {
		case types.NodegroupStatusActive:
			return &provider.CreateResponse{Outputs: map[string]any{
				"name":        *resp.Nodegroup.NodegroupName,
				"arn":         *resp.Nodegroup.NodegroupArn,
				"clusterName": cfg.ClusterName,
			}}, nil
		case types.NodegroupStatusCreateFailed, types.NodegroupStatusDegraded:
			return nil, provider.NewPermanent("describe-nodegroup",
				fmt.Errorf("nodegroup %s entered %s state", req.Name, resp.Nodegroup.Status))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for nodegroup %s: %w", req.Name, ctx.Err())
		case <-ticker.C:
		}
	}
}
