package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PolicyService delegates the decision to an OPA server. The policy package
// must produce {"allowed": bool, "reason": string}.
type PolicyService struct {
	OPAURL        string
	PolicyPackage string
	HTTPClient    *http.Client
	clientOnce    sync.Once
}

type opaResponse struct {
	Result *PolicyDecision `json:"result"`
}

func (p *PolicyService) httpClient() *http.Client {
	p.clientOnce.Do(func() {
		if p.HTTPClient == nil {
			p.HTTPClient = &http.Client{Timeout: 5 * time.Second}
		}
	})
	return p.HTTPClient
}

func (p *PolicyService) Evaluate(ctx context.Context, input PolicyInput) (PolicyDecision, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return PolicyDecision{}, err
	}
	pkg := strings.Trim(strings.TrimSpace(p.PolicyPackage), "/")
	pkg = strings.ReplaceAll(pkg, ".", "/")
	base := strings.TrimRight(strings.TrimSpace(p.OPAURL), "/")
	url := fmt.Sprintf("%s/v1/data/%s", base, pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return PolicyDecision{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient().Do(req)
	if err != nil {
		return PolicyDecision{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PolicyDecision{}, fmt.Errorf("opa status %d", resp.StatusCode)
	}
	var out opaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PolicyDecision{}, err
	}
	if out.Result == nil {
		return PolicyDecision{}, errors.New("opa result undefined")
	}
	return *out.Result, nil
}
