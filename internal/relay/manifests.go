package relay

// defaultProxyManifest is materialized at first run under the config
// directory's proxy_manifest.json; placeholders are
// substituted by Template.Render.
const defaultProxyManifest = `{
  "apiVersion": "v1",
  "kind": "Pod",
  "metadata": {
    "name": "{hashed_name}",
    "labels": {
      "app": "{hashed_name}",
      "config_id": "{config_id}"
    }
  },
  "spec": {
    "containers": [
      {
        "name": "relay",
        "image": "ghcr.io/kftray/kftray-server:latest",
        "env": [
          {"name": "LOCAL_PORT", "value": "{local_port}"},
          {"name": "REMOTE_PORT", "value": "{remote_port}"},
          {"name": "REMOTE_ADDRESS", "value": "{remote_address}"},
          {"name": "PROTOCOL", "value": "{protocol}"}
        ]
      }
    ],
    "restartPolicy": "Never"
  }
}`

const defaultExposeDeployment = `{
  "apiVersion": "apps/v1",
  "kind": "Deployment",
  "metadata": {
    "name": "{deployment_name}",
    "namespace": "{namespace}",
    "labels": {"app": "kftray-expose", "config_id": "{config_id}"}
  },
  "spec": {
    "replicas": 1,
    "selector": {"matchLabels": {"app": "kftray-expose", "config_id": "{config_id}"}},
    "template": {
      "metadata": {"labels": {"app": "kftray-expose", "config_id": "{config_id}"}},
      "spec": {
        "containers": [
          {
            "name": "relay",
            "image": "ghcr.io/kftray/kftray-server:latest",
            "ports": [{"containerPort": 8080, "name": "http"}, {"containerPort": 9999, "name": "ws"}]
          }
        ]
      }
    }
  }
}`

const defaultExposeService = `{
  "apiVersion": "v1",
  "kind": "Service",
  "metadata": {
    "name": "{service_name}",
    "namespace": "{namespace}",
    "labels": {"config_id": "{config_id}"}
  },
  "spec": {
    "selector": {"app": "kftray-expose", "config_id": "{config_id}"},
    "ports": [
      {"name": "http", "port": 8080, "targetPort": 8080},
      {"name": "ws", "port": 9999, "targetPort": 9999}
    ]
  }
}`

const defaultExposeIngress = `{
  "apiVersion": "networking.k8s.io/v1",
  "kind": "Ingress",
  "metadata": {
    "name": "{ingress_name}",
    "namespace": "{namespace}",
    "labels": {"config_id": "{config_id}"}
  },
  "spec": {
    "rules": [
      {
        "host": "{domain}",
        "http": {
          "paths": [
            {
              "path": "/",
              "pathType": "Prefix",
              "backend": {"service": {"name": "{service_name}", "port": {"number": 8080}}}
            }
          ]
        }
      }
    ]
  }
}`

// DefaultTemplates returns the built-in templates, used the first time a
// config directory does not already have user-customized copies.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"proxy_manifest.json":    defaultProxyManifest,
		"expose_deployment.json": defaultExposeDeployment,
		"expose_service.json":    defaultExposeService,
		"expose_ingress.json":    defaultExposeIngress,
	}
}
