// Package cluster drives diskmark agents on several machines and combines
// their results.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/runningwild/diskmark/pkg/agent"
	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/report"
)

// Client fans a run out to agents.
type Client struct {
	nodes  []string
	http   *http.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client for agents at nodes (host:port or URLs).
func New(nodes []string, opts ...Option) *Client {
	c := &Client{nodes: nodes, http: http.DefaultClient, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NodeResult is the outcome on one agent.
type NodeResult struct {
	Node  string           `json:"node"`
	Range engine.Range     `json:"range"`
	Doc   *report.Document `json:"document,omitempty"`
	Err   error            `json:"-"`
}

// Run splits samples of req across the agents, numbering them from base, and
// waits for every agent. Agents whose share is empty are skipped. The error
// joins every node failure; successful nodes still report their documents.
func (c *Client) Run(ctx context.Context, req agent.RunRequest, samples int, base uint32) ([]NodeResult, error) {
	if len(c.nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes", engine.ErrInvalidParams)
	}
	if samples <= 0 {
		return nil, fmt.Errorf("%w: samples %d", engine.ErrInvalidParams, samples)
	}
	ranges := engine.DivideIntoRanges(base, base+uint32(samples), len(c.nodes))

	var wg sync.WaitGroup
	results := make([]NodeResult, len(c.nodes))
	for i, node := range c.nodes {
		results[i] = NodeResult{Node: node, Range: ranges[i]}
		if ranges[i].Len() == 0 {
			continue
		}
		nodeReq := req
		nodeReq.Settings.Samples = ranges[i].Len()
		nodeReq.SequenceBase = ranges[i].Start

		wg.Add(1)
		go func(idx int, host string, r agent.RunRequest) {
			defer wg.Done()
			doc, err := c.runRemote(ctx, host, r)
			results[idx].Doc = doc
			results[idx].Err = err
		}(i, node, nodeReq)
	}
	wg.Wait()

	var errs []error
	var out []NodeResult
	for _, r := range results {
		if r.Range.Len() == 0 {
			continue
		}
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("node %s failed: %w", r.Node, r.Err))
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

func baseURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	return "http://" + host
}

func (c *Client) runRemote(ctx context.Context, host string, req agent.RunRequest) (*report.Document, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(host)+"/run", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Info("starting remote run", "node", host, "samples", req.Settings.Samples, "sequence_base", req.SequenceBase)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent %s error (%s): %s", host, resp.Status, string(bytes.TrimSpace(body)))
	}
	return report.Decode(resp.Body)
}

// Totals combines one direction across nodes. Bandwidth and IOPS add up;
// latency is averaged weighted by sample count.
type Totals struct {
	Direction    engine.Direction `json:"direction"`
	Nodes        int              `json:"nodes"`
	Samples      int              `json:"samples"`
	BwAvg        float64          `json:"bw_avg"`
	IOPS         int64            `json:"iops"`
	LatencyAvgMs float64          `json:"latency_avg_ms"`
}

// Aggregate combines the operations of every successful node.
func Aggregate(results []NodeResult) []Totals {
	var out []Totals
	for _, d := range []engine.Direction{engine.Write, engine.Read} {
		t := Totals{Direction: d}
		var weight float64
		for _, r := range results {
			if r.Err != nil || r.Doc == nil {
				continue
			}
			op := r.Doc.Run.Operation(d)
			if op == nil {
				continue
			}
			n := len(op.Samples)
			t.Nodes++
			t.Samples += n
			t.BwAvg += op.BwAvg
			t.IOPS += op.IOPS
			t.LatencyAvgMs += op.LatencyAvgMs * float64(n)
			weight += float64(n)
		}
		if t.Nodes == 0 {
			continue
		}
		if weight > 0 {
			t.LatencyAvgMs /= weight
		}
		out = append(out, t)
	}
	return out
}
