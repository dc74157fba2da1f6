package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Prober checks whether a device answers at address.
// Implementations must respect ctx's deadline.
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, address string) bool

// Probe calls f(ctx, address).
func (f ProberFunc) Probe(ctx context.Context, address string) bool { return f(ctx, address) }

// StatusPolicy decides which HTTP responses count as a device being present.
type StatusPolicy int

const (
	// PolicySuccess accepts 2xx responses only.
	PolicySuccess StatusPolicy = iota
	// PolicyReachable accepts any HTTP response.
	PolicyReachable
)

// ParsePolicy parses "success" or "reachable".
func ParsePolicy(s string) (StatusPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "success":
		return PolicySuccess, nil
	case "reachable":
		return PolicyReachable, nil
	default:
		return PolicySuccess, fmt.Errorf("unknown status policy %q", s)
	}
}

func (p StatusPolicy) String() string {
	if p == PolicyReachable {
		return "reachable"
	}
	return "success"
}

// Accept reports whether status counts as a hit under this policy.
func (p StatusPolicy) Accept(status int) bool {
	if p == PolicyReachable {
		return status > 0
	}
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// HTTPProber probes with HEAD http://{address}/.
type HTTPProber struct {
	client *http.Client
	policy StatusPolicy
}

// NewHTTPProber creates a prober with the given status policy. Timeouts come
// from the context passed to Probe.
func NewHTTPProber(policy StatusPolicy) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
			},
		},
		policy: policy,
	}
}

// Policy returns the configured status policy.
func (p *HTTPProber) Policy() StatusPolicy {
	return p.policy
}

// Probe issues one HEAD request and applies the status policy.
func (p *HTTPProber) Probe(ctx context.Context, address string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "http://"+address+"/", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return p.policy.Accept(resp.StatusCode)
}
