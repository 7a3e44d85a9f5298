package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

const (
	httpClientTimeout = 5 * time.Second
)

// PrometheusSampler reads the CPU load from a Prometheus instant query. The query may reference
// $project and $instance, which are substituted before each request.
type PrometheusSampler struct {
	client        *req.Client
	serverAddress string
	query         string
	clock         clock.PassiveClock
	logger        *zap.Logger
}

var _ CPUSampler = (*PrometheusSampler)(nil)

type promQueryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func NewPrometheusSampler(logger *zap.Logger, serverAddress, query string) *PrometheusSampler {
	client := req.C().SetTimeout(httpClientTimeout)
	client.SetCommonHeader("Accept", "application/json")
	return &PrometheusSampler{
		client:        client,
		serverAddress: strings.TrimSuffix(serverAddress, "/"),
		query:         query,
		clock:         clock.RealClock{},
		logger:        logger.Named("prometheusSampler"),
	}
}

func (s *PrometheusSampler) GetCPUUsage(ctx context.Context, projectID, instanceID string) (float64, error) {
	query := strings.NewReplacer(
		values.ProjectPlaceholder, projectID,
		values.InstancePlaceholder, instanceID,
	).Replace(s.query)

	v, err := s.executePromQuery(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to execute prometheus query %s: %w", query, err)
	}
	s.logger.Debug("CPU sample", zap.String("instance", instanceID), zap.Float64("cpu", v))
	return v, nil
}

func (s *PrometheusSampler) executePromQuery(ctx context.Context, query string) (float64, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query": query,
			"time":  s.clock.Now().UTC().Format(time.RFC3339),
		}).
		Get(s.serverAddress + "/api/v1/query")
	if err != nil {
		return 0, fmt.Errorf("failed to execute HTTP request: %w", err)
	}

	body, err := resp.ToBytes()
	if err != nil {
		return 0, fmt.Errorf("failed to read Prometheus response: %w", err)
	}
	if !resp.IsSuccessState() {
		return 0, fmt.Errorf("unexpected HTTP status: %s, body: %s", resp.Status, body)
	}

	var result promQueryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("failed to decode Prometheus response: %w", err)
	}

	if len(result.Data.Result) == 0 {
		return 0, fmt.Errorf("prometheus query %s, result is empty: %w", query, ErrNoCPUSamples)
	} else if len(result.Data.Result) > 1 {
		return 0, fmt.Errorf("prometheus query %s returned multiple elements", query)
	}

	value := result.Data.Result[0].Value
	if len(value) < 2 {
		return 0, fmt.Errorf("prometheus query %s didn't return enough values", query)
	}

	str, ok := value[1].(string)
	if !ok {
		return 0, fmt.Errorf("prometheus query %s returned a non-string sample value", query)
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse metric value: %w", err)
	}
	return v, nil
}

func (s *PrometheusSampler) Close() error {
	s.client.GetClient().CloseIdleConnections()
	return nil
}
