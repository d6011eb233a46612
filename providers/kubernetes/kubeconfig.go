package kubernetes

import "encoding/json"

// BuildKubeconfig renders a kubeconfig document for an EKS cluster,
// following the layout in
// https://docs.aws.amazon.com/eks/latest/userguide/create-kubeconfig.html.
// Authentication goes through aws-iam-authenticator so the document
// carries no long-lived credentials. The result is JSON, which every
// kubeconfig loader accepts as a YAML subset.
func BuildKubeconfig(endpoint, certData, clusterName string) string {
	doc := map[string]any{
		"apiVersion": "v1",
		"kind":       "Config",
		"clusters": []map[string]any{{
			"name": "kubernetes",
			"cluster": map[string]any{
				"server":                     endpoint,
				"certificate-authority-data": certData,
			},
		}},
		"contexts": []map[string]any{{
			"name": "aws",
			"context": map[string]any{
				"cluster": "kubernetes",
				"user":    "aws",
			},
		}},
		"current-context": "aws",
		"users": []map[string]any{{
			"name": "aws",
			"user": map[string]any{
				"exec": map[string]any{
					"apiVersion": "client.authentication.k8s.io/v1beta1",
					"command":    "aws-iam-authenticator",
					"args":       []string{"token", "-i", clusterName},
				},
			},
		}},
	}

	raw, _ := json.Marshal(doc)
	return string(raw)
}
