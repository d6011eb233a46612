package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/provisr-io/provisr/pkg/provider"
)

type RoleConfig struct {
	AssumeRolePolicy string            `json:"assumeRolePolicy"`
	Description      string            `json:"description"`
	Tags             map[string]string `json:"tags"`
}

func (p *Provider) createRole(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg RoleConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("create-role", err)
	}
	if cfg.AssumeRolePolicy == "" {
		return nil, provider.NewPermanent("create-role", fmt.Errorf("assumeRolePolicy is required"))
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &req.Name,
		AssumeRolePolicyDocument: &cfg.AssumeRolePolicy,
	}
	if cfg.Description != "" {
		input.Description = &cfg.Description
	}
	for k, v := range cfg.Tags {
		input.Tags = append(input.Tags, types.Tag{Key: &k, Value: &v})
	}

	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		// Re-runs with the same assigned name land here; the existing
		// role carries the same content, so adopt it.
		if errorCode(err) == "EntityAlreadyExists" {
			return p.describeRole(ctx, req.Name)
		}
		return nil, classify("create-role", err)
	}

	return &provider.CreateResponse{Outputs: map[string]any{
		"name": *resp.Role.RoleName,
		"arn":  *resp.Role.Arn,
		"id":   *resp.Role.RoleId,
	}}, nil
}

func (p *Provider) describeRole(ctx context.Context, name string) (*provider.CreateResponse, error) {
	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &name})
	if err != nil {
		return nil, classify("get-role", err)
	}
	return &provider.CreateResponse{Outputs: map[string]any{
		"name": *resp.Role.RoleName,
		"arn":  *resp.Role.Arn,
		"id":   *resp.Role.RoleId,
	}}, nil
}

type RolePolicyAttachmentConfig struct {
	Role      string `json:"role"`
	PolicyArn string `json:"policyArn"`
}

func (p *Provider) createRolePolicyAttachment(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	var cfg RolePolicyAttachmentConfig
	if err := decode(req.Inputs, &cfg); err != nil {
		return nil, provider.NewPermanent("attach-role-policy", err)
	}
	if cfg.Role == "" || cfg.PolicyArn == "" {
		return nil, provider.NewPermanent("attach-role-policy", fmt.Errorf("role and policyArn are required"))
	}

	// AttachRolePolicy is idempotent: attaching an already-attached
	// managed policy succeeds without error.
	_, err := p.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  &cfg.Role,
		PolicyArn: &cfg.PolicyArn,
	})
	if err != nil {
		return nil, classify("attach-role-policy", err)
	}

	return &provider.CreateResponse{Outputs: map[string]any{
		"role":      cfg.Role,
		"policyArn": cfg.PolicyArn,
		"id":        cfg.Role + "/" + cfg.PolicyArn,
	}}, nil
}
