package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/provisr-io/provisr/internal/deferred"
	sdk "github.com/provisr-io/provisr/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end runs of declared programs through builder, graph, scheduler,
// and materializer, against the scripted fake capability.

func TestEndToEnd_RoleWithHashedPolicyAttachments(t *testing.T) {
	fake := newFake()
	eng := newTestEngine(fake)

	b := NewBuilder()
	role := b.Declare("fake", "fake.thing", "eks-role", map[string]any{
		"assumeRolePolicy": "{}",
	})

	policies := []string{
		"arn:aws:iam::aws:policy/AmazonEKSClusterPolicy",
		"arn:aws:iam::aws:policy/AmazonEKSServicePolicy",
	}
	attachments := b.DeclareEach("fake", "fake.thing", "eks-role", policies, func(arn string) map[string]any {
		return map[string]any{
			"policyArn": arn,
			"role":      role.Output("id"),
		}
	})

	require.Len(t, attachments, 2)
	assert.NotEqual(t, attachments[0].Name(), attachments[1].Name())
	assert.Regexp(t, `^eks-role-[0-9a-f]{8}$`, attachments[0].Name())
	assert.Regexp(t, `^eks-role-[0-9a-f]{8}$`, attachments[1].Name())

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.NoError(t, err)

	// Both attachments were provisioned strictly after the role.
	order := fake.finishOrder()
	require.Len(t, order, 3)
	assert.Equal(t, "eks-role", order[0])

	for _, att := range attachments {
		rec := run.Records[att.Addr()]
		assert.Equal(t, StateCreated, rec.State)
		assert.Equal(t, "fake-eks-role", rec.Outputs["role"])
	}
}

func buildConfig(args []any) (any, error) {
	doc := map[string]any{
		"apiVersion": "v1",
		"kind":       "Config",
		"clusters": []any{map[string]any{
			"name": "kubernetes",
			"cluster": map[string]any{
				"server":                     args[0],
				"certificate-authority-data": args[1],
			},
		}},
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

func TestEndToEnd_ClusterConfigOutput(t *testing.T) {
	fake := newFake()
	fake.outputs["x"] = map[string]any{
		"endpoint": "https://x.example.com",
		"certData": "Q0VSVA==",
	}
	eng := newTestEngine(fake)

	b := NewBuilder()
	cluster := b.Declare("fake", "fake.thing", "x", nil)
	b.Export("config", deferred.Join(
		cluster.Output("endpoint"),
		cluster.Output("certData"),
	).Map(func(v any) (any, error) {
		return buildConfig(v.([]any))
	}))

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.NoError(t, err)

	outputs := MaterializeOutputs(g, run)
	require.Empty(t, outputs["config"].Error)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(outputs["config"].Value.(string)), &doc))
	clusters := doc["clusters"].([]any)
	cluster0 := clusters[0].(map[string]any)["cluster"].(map[string]any)
	assert.Equal(t, "https://x.example.com", cluster0["server"])
	assert.Equal(t, "Q0VSVA==", cluster0["certificate-authority-data"])
}

func TestEndToEnd_ClusterFailureNamesResource(t *testing.T) {
	fake := newFake()
	fake.failures["x"] = []error{
		sdk.NewPermanent("create", errors.New("subnet invalid")),
	}
	eng := newTestEngine(fake)

	b := NewBuilder()
	cluster := b.Declare("fake", "fake.thing", "x", nil)
	b.Export("config", deferred.Join(
		cluster.Output("endpoint"),
		cluster.Output("certData"),
	).Map(func(v any) (any, error) {
		return buildConfig(v.([]any))
	}))

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.Error(t, err)

	outputs := MaterializeOutputs(g, run)
	require.NotEmpty(t, outputs["config"].Error)
	assert.Contains(t, outputs["config"].Error, "fake.thing.x")
	assert.Nil(t, outputs["config"].Value)
}

func TestEndToEnd_ServiceURLOutput(t *testing.T) {
	fake := newFake()
	fake.outputs["app"] = map[string]any{
		"hostname": "lb-123.elb.amazonaws.com",
	}
	eng := newTestEngine(fake)

	b := NewBuilder()
	svc := b.Declare("fake", "fake.thing", "app", nil)

	// Providers may hand ports back as float64; coerce at materialization.
	b.Export("url", deferred.Join(svc.Output("hostname"), deferred.Of(float64(80))).
		Map(func(v any) (any, error) {
			args := v.([]any)
			port, err := deferred.AsInt(args[1])
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("http://%v:%d", args[0], port), nil
		}))

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.NoError(t, err)

	outputs := MaterializeOutputs(g, run)
	require.Empty(t, outputs["url"].Error)
	assert.Equal(t, "http://lb-123.elb.amazonaws.com:80", outputs["url"].Value)
}

func TestEndToEnd_PartialSuccessOutputs(t *testing.T) {
	fake := newFake()
	fake.failures["bad"] = []error{
		sdk.NewPermanent("create", errors.New("denied")),
	}
	fake.outputs["good"] = map[string]any{"value": "ok"}
	eng := newTestEngine(fake)

	b := NewBuilder()
	good := b.Declare("fake", "fake.thing", "good", nil)
	bad := b.Declare("fake", "fake.thing", "bad", nil)
	b.Export("working", good.Output("value"))
	b.Export("broken", bad.Output("value"))

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.Error(t, err)

	outputs := MaterializeOutputs(g, run)
	assert.Equal(t, "ok", outputs["working"].Value)
	assert.NotEmpty(t, outputs["broken"].Error)

	report := Report(g, run)
	assert.False(t, report.Succeeded())
	require.Len(t, report.Resources, 2)
}

func TestEndToEnd_RefOutputCarriesFailureChain(t *testing.T) {
	fake := newFake()
	fake.failures["bad"] = []error{
		sdk.NewPermanent("create", errors.New("role arn malformed")),
	}
	eng := newTestEngine(fake)

	b := NewBuilder()
	b.Declare("fake", "fake.thing", "bad", nil)
	b.Export("val", "ref://fake.thing.bad/id")

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.Error(t, err)

	// A reference-expression output blocked by a failed resource reports
	// the failing resource and the underlying cause, same as a cell output.
	outputs := MaterializeOutputs(g, run)
	require.NotEmpty(t, outputs["val"].Error)
	assert.Contains(t, outputs["val"].Error, "fake.thing.bad")
	assert.Contains(t, outputs["val"].Error, "role arn malformed")
	assert.Nil(t, outputs["val"].Value)
}

func TestReport_Success(t *testing.T) {
	fake := newFake()
	eng := newTestEngine(fake)

	b := NewBuilder()
	h := b.Declare("fake", "fake.thing", "only", map[string]any{"value": "v"})
	b.Export("id", h.Output("id"))

	g, err := BuildGraph(b.Program())
	require.NoError(t, err)

	run, err := eng.Execute(context.Background(), g)
	require.NoError(t, err)

	report := Report(g, run)
	assert.True(t, report.Succeeded())
	require.Len(t, report.Resources, 1)
	assert.Equal(t, "created", report.Resources[0].State)
	assert.Equal(t, 1, report.Resources[0].Attempts)
	assert.Equal(t, "fake-only", report.Outputs["id"].Value)
	assert.NotEmpty(t, report.StartedAt)
	assert.NotEmpty(t, report.FinishedAt)
}
