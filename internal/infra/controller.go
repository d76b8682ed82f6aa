package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/dr"
)

// Operation names used as keys in the endpoint map
const (
	OpFailoverService        = "failover-service"
	OpFailoverInfrastructure = "failover-infrastructure"
	OpMigrateData            = "migrate-data"
	OpValidate               = "validate"
)

// HTTPController drives failover mechanics through control endpoints.
// Each operation posts a JSON body to its configured URL; a 2xx
// response marks the operation successful and the response body is
// carried back as detail.
type HTTPController struct {
	endpoints  map[string]string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPController(endpoints map[string]string, logger *zap.Logger) *HTTPController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPController{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

func (c *HTTPController) FailoverService(ctx context.Context, service string) (*dr.ControlResult, error) {
	return c.invoke(ctx, OpFailoverService, service)
}

func (c *HTTPController) FailoverInfrastructure(ctx context.Context, component string) (*dr.ControlResult, error) {
	return c.invoke(ctx, OpFailoverInfrastructure, component)
}

func (c *HTTPController) MigrateData(ctx context.Context, dataset string) (*dr.ControlResult, error) {
	return c.invoke(ctx, OpMigrateData, dataset)
}

func (c *HTTPController) Validate(ctx context.Context, check string) (*dr.ControlResult, error) {
	return c.invoke(ctx, OpValidate, check)
}

func (c *HTTPController) invoke(ctx context.Context, operation, target string) (*dr.ControlResult, error) {
	url, ok := c.endpoints[operation]
	if !ok || url == "" {
		return nil, fmt.Errorf("no control endpoint for operation %q", operation)
	}

	body, err := json.Marshal(map[string]string{
		"operation": operation,
		"target":    target,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal control request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create control request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("control endpoint %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	c.logger.Info("control operation completed",
		zap.String("operation", operation),
		zap.String("target", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &dr.ControlResult{
			Success: false,
			Detail:  string(detail),
		}, fmt.Errorf("control endpoint %s returned status %d", operation, resp.StatusCode)
	}

	return &dr.ControlResult{Success: true, Detail: string(detail)}, nil
}

// SimulatedController reports success for every operation without
// touching real infrastructure. Used when no control endpoints are
// configured, so an engine can run end to end in a staging setup.
type SimulatedController struct {
	logger *zap.Logger
}

func NewSimulatedController(logger *zap.Logger) *SimulatedController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedController{logger: logger}
}

func (c *SimulatedController) FailoverService(ctx context.Context, service string) (*dr.ControlResult, error) {
	return c.simulate("failover service", service), nil
}

func (c *SimulatedController) FailoverInfrastructure(ctx context.Context, component string) (*dr.ControlResult, error) {
	return c.simulate("failover infrastructure", component), nil
}

func (c *SimulatedController) MigrateData(ctx context.Context, dataset string) (*dr.ControlResult, error) {
	return c.simulate("migrate data", dataset), nil
}

func (c *SimulatedController) Validate(ctx context.Context, check string) (*dr.ControlResult, error) {
	return c.simulate("validate", check), nil
}

func (c *SimulatedController) simulate(operation, target string) *dr.ControlResult {
	c.logger.Info("simulated control operation",
		zap.String("operation", operation),
		zap.String("target", target))
	return &dr.ControlResult{
		Success: true,
		Detail:  fmt.Sprintf("simulated %s for %s", operation, target),
	}
}
