// Package kubeclient is the kube client factory: it
// produces an authenticated API client for a named context, cached per
// (context, kubeconfig), and is the only component that talks to
// clientcmd/rest/transport directly.
package kubeclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/proxy"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // register exec/cloud auth providers
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"kftray-core/pkg/logging"
)

// Client is the logically-immutable, concurrency-safe handle the rest of
// the core consumes: a clientset plus the REST config needed to build
// portforward requests (C4/C5/C6).
type Client struct {
	Clientset  *kubernetes.Clientset
	RESTConfig *rest.Config
	Context    string
}

// Factory caches Clients per (context, kubeconfig path list).
type Factory struct {
	mu                sync.Mutex
	clients           map[string]*Client
	pathAugmentedOnce sync.Once
}

func NewFactory() *Factory {
	return &Factory{clients: make(map[string]*Client)}
}

// GetClient returns a cached Client for (context, kubeconfigPath), building
// one on first use. kubeconfigPath may be "", "default", or a
// ':'/';'-separated list of paths to merge.
func (f *Factory) GetClient(ctx context.Context, kubeContext, kubeconfigPath string) (*Client, error) {
	f.pathAugmentedOnce.Do(func() { augmentPATH(ctx) })

	key := kubeContext + "\x00" + kubeconfigPath
	f.mu.Lock()
	if c, ok := f.clients[key]; ok {
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()

	c, err := f.buildClient(kubeContext, kubeconfigPath)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.clients[key] = c
	f.mu.Unlock()
	return c, nil
}

func (f *Factory) buildClient(kubeContext, kubeconfigPath string) (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if paths := resolveKubeconfigPaths(kubeconfigPath); len(paths) > 0 {
		loadingRules.Precedence = paths
	}

	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}

	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)
	restCfg, err := loader.ClientConfig()
	if err != nil {
		return nil, newErr(ConfigError, "failed to build kube client config for context "+kubeContext, err)
	}

	if _, err := buildTLSConfig(restCfg); err != nil {
		return nil, err
	}

	if err := applyTransportWrapping(restCfg); err != nil {
		return nil, err
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, newErr(ConnectionError, "failed to create kubernetes clientset", err)
	}

	resolvedContext := kubeContext
	if resolvedContext == "" {
		if raw, err := loader.RawConfig(); err == nil {
			resolvedContext = raw.CurrentContext
		}
	}

	logging.Info("kubeclient", "built client for context %q", resolvedContext)
	return &Client{Clientset: cs, RESTConfig: restCfg, Context: resolvedContext}, nil
}

// resolveKubeconfigPaths implements the "empty or literally
// default" resolution: KUBECONFIG env (split), else $HOME/.kube/config.
// A caller-supplied ':'/';'-separated list is used verbatim instead.
func resolveKubeconfigPaths(kubeconfigPath string) []string {
	if kubeconfigPath != "" && kubeconfigPath != "default" {
		return splitPathList(kubeconfigPath)
	}

	if env := os.Getenv("KUBECONFIG"); env != "" {
		return splitPathList(env)
	}

	if home, err := os.UserHomeDir(); err == nil {
		return []string{home + "/.kube/config"}
	}
	return nil
}

func splitPathList(s string) []string {
	sep := ":"
	if strings.Contains(s, ";") {
		sep = ";"
	}
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyTransportWrapping honors HTTPS_PROXY/SOCKS5_PROXY by wrapping the
// REST config's dial behavior in the matching tunnel layer. Schemes are
// restricted to http, https, socks5, socks5h.
func applyTransportWrapping(cfg *rest.Config) error {
	proxyURL, ok := proxyURLFromEnv()
	if !ok {
		return nil
	}

	switch proxyURL.Scheme {
	case "http", "https":
		cfg.Proxy = http.ProxyURL(proxyURL)
		return nil
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return newErr(ProxyError, "failed to build socks5 dialer for "+proxyURL.String(), err)
		}
		cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		return nil
	default:
		return newErr(ProxyError, "unsupported proxy scheme "+proxyURL.Scheme, nil)
	}
}

// proxyURLFromEnv checks HTTPS_PROXY then SOCKS5_PROXY (the latter is not a
// standard Go env var, so it is read explicitly rather than relying on
// a proxy-from-environment helper).
func proxyURLFromEnv() (*url.URL, bool) {
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		if u, err := url.Parse(v); err == nil {
			return u, true
		}
	}
	if v := os.Getenv("SOCKS5_PROXY"); v != "" {
		if u, err := url.Parse(v); err == nil {
			return u, true
		}
	}
	return nil, false
}
