package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/provisr-io/provisr/pkg/provider"
)

type SecurityGroupRuleSpec struct {
	Protocol   string   `json:"protocol"`
	FromPort   int32    `json:"fromPort"`
	ToPort     int32    `json:"toPort"`
	CidrBlocks []string `json:"cidrBlocks"`
}

type SecurityGroupConfig struct {
	VpcId       string                  `json:"vpcId"`
	Description string                  `json:"description"`
	Ingress     []SecurityGroupRuleSpec `json:"ingress"`
	Egress      []SecurityGroupRuleSpec `json:"egress"`
	Tags        map[string]string       `json:"tags"`
}

func (p *Provider) createSecurityGroup(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg SecurityGroupConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-security-group", err)
	}
	if cfg.VpcId == "" {
		return nil, provider.NewPermanent("create-security-group", fmt.Errorf("vpcId is required"))
	}

	description := cfg.Description
	if description == "" {
		description = req.Name
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   &req.Name,
		VpcId:       &cfg.VpcId,
		Description: &description,
	}
	if len(cfg.Tags) > 0 {
		spec := types.TagSpecification{ResourceType: types.ResourceTypeSecurityGroup}
		for k, v := range cfg.Tags {
			spec.Tags = append(spec.Tags, types.Tag{Key: &k, Value: &v})
		}
		input.TagSpecifications = []types.TagSpecification{spec}
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		if errorCode(err) == "InvalidGroup.Duplicate" {
			return p.describeSecurityGroup(ctx, req.Name, cfg.VpcId)
		}
		return nil, classify("create-security-group", err)
	}
	groupId := *resp.GroupId

	if len(cfg.Ingress) > 0 {
		_, err = p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupId,
			IpPermissions: ipPermissions(cfg.Ingress),
		})
		if err != nil && errorCode(err) != "InvalidPermission.Duplicate" {
			return nil, classify("authorize-ingress", err)
		}
	}
	if len(cfg.Egress) > 0 {
		_, err = p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &groupId,
			IpPermissions: ipPermissions(cfg.Egress),
		})
		if err != nil && errorCode(err) != "InvalidPermission.Duplicate" {
			return nil, classify("authorize-egress", err)
		}
	}

	return &provider.CreateResponse{Outputs: map[string]any{
		"id":    groupId,
		"name":  req.Name,
		"vpcId": cfg.VpcId,
	}}, nil
}

func (p *Provider) describeSecurityGroup(ctx context.Context, name, vpcId string) (*provider.CreateResponse, error) {
	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: ptr("group-name"), Values: []string{name}},
			{Name: ptr("vpc-id"), Values: []string{vpcId}},
		},
	})
	if err != nil {
		return nil, classify("describe-security-group", err)
	}
	if len(resp.SecurityGroups) == 0 {
		return nil, provider.NewPermanent("describe-security-group", fmt.Errorf("security group %q not found in vpc %s", name, vpcId))
	}
	sg := resp.SecurityGroups[0]
	return &provider.CreateResponse{Outputs: map[string]any{
		"id":    *sg.GroupId,
		"name":  name,
		"vpcId": vpcId,
	}}, nil
}

type SecurityGroupRuleConfig struct {
	SecurityGroupId string   `json:"securityGroupId"`
	Type            string   `json:"type"` // "ingress" or "egress"
	Protocol        string   `json:"protocol"`
	FromPort        int32    `json:"fromPort"`
	ToPort          int32    `json:"toPort"`
	CidrBlocks      []string `json:"cidrBlocks"`
}

func (p *Provider) createSecurityGroupRule(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg SecurityGroupRuleConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-security-group-rule", err)
	}
	if cfg.SecurityGroupId == "" {
		return nil, provider.NewPermanent("create-security-group-rule", fmt.Errorf("securityGroupId is required"))
	}

	perms := ipPermissions([]SecurityGroupRuleSpec{{
		Protocol:   cfg.Protocol,
		FromPort:   cfg.FromPort,
		ToPort:     cfg.ToPort,
		CidrBlocks: cfg.CidrBlocks,
	}})

	var err error
	switch cfg.Type {
	case "", "ingress":
		_, err = p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &cfg.SecurityGroupId,
			IpPermissions: perms,
		})
	case "egress":
		_, err = p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &cfg.SecurityGroupId,
			IpPermissions: perms,
		})
	default:
		return nil, provider.NewPermanent("create-security-group-rule", fmt.Errorf("unknown rule type %q", cfg.Type))
	}
	if err != nil && errorCode(err) != "InvalidPermission.Duplicate" {
		return nil, classify("create-security-group-rule", err)
	}

	return &provider.CreateResponse{Outputs: map[string]any{
		"securityGroupId": cfg.SecurityGroupId,
		"id":              fmt.Sprintf("%s/%s/%s/%d-%d", cfg.SecurityGroupId, ruleType(cfg.Type), cfg.Protocol, cfg.FromPort, cfg.ToPort),
	}}, nil
}

func ruleType(t string) string {
	if t == "" {
		return "ingress"
	}
	return t
}

func ipPermissions(specs []SecurityGroupRuleSpec) []types.IpPermission {
	perms := make([]types.IpPermission, 0, len(specs))
	for _, s := range specs {
		protocol := s.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		perm := types.IpPermission{
			IpProtocol: &protocol,
			FromPort:   ptr(s.FromPort),
			ToPort:     ptr(s.ToPort),
		}
		for _, cidr := range s.CidrBlocks {
			perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: ptr(cidr)})
		}
		perms = append(perms, perm)
	}
	return perms
}

func (p *Provider) lookupDefaultVpc(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{{Name: ptr("is-default"), Values: []string{"true"}}},
	})
	if err != nil {
		return nil, classify("describe-vpcs", err)
	}
	if len(resp.Vpcs) == 0 {
		return nil, provider.NewPermanent("describe-vpcs", fmt.Errorf("account has no default VPC"))
	}
	vpc := resp.Vpcs[0]
	return &provider.CreateResponse{Outputs: map[string]any{
		"id":        *vpc.VpcId,
		"cidrBlock": *vpc.CidrBlock,
	}}, nil
}

type DefaultSubnetsConfig struct {
	VpcId string `json:"vpcId"`
}

func (p *Provider) lookupDefaultSubnets(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg DefaultSubnetsConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("describe-subnets", err)
	}
	if cfg.VpcId == "" {
		return nil, provider.NewPermanent("describe-subnets", fmt.Errorf("vpcId is required"))
	}

	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{{Name: ptr("vpc-id"), Values: []string{cfg.VpcId}}},
	})
	if err != nil {
		return nil, classify("describe-subnets", err)
	}
	if len(resp.Subnets) == 0 {
		return nil, provider.NewPermanent("describe-subnets", fmt.Errorf("vpc %s has no subnets", cfg.VpcId))
	}

	ids := make([]any, 0, len(resp.Subnets))
	for _, s := range resp.Subnets {
		ids = append(ids, *s.SubnetId)
	}
	return &provider.CreateResponse{Outputs: map[string]any{
		"ids":   ids,
		"vpcId": cfg.VpcId,
	}}, nil
}

func ptr[T any](v T) *T {
	return &v
}
