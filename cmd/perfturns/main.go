package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL        string
	role           string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type wsEnvelope struct {
	Type string `json:"type"`
	Role string `json:"role,omitempty"`
	Turn struct {
		Speaker string `json:"speaker"`
	} `json:"turn,omitempty"`
}

var defaultPrompts = []string{
	"Reply in three words: build health?",
	"Reply in three words: open pull requests?",
	"Reply in three words: what changed overnight?",
	"Reply in three words: top risk?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfturns: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfturns: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "devdash base URL")
	flag.StringVar(&cfg.role, "role", "context-keeper", "agent role to replay against")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "per-turn timeout in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "prompts separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.role) == "" {
		return options{}, fmt.Errorf("role is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultPrompts...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			t := strings.TrimSpace(part)
			if t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty prompts")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: cfg.turnTimeout}

	wsURL, err := eventsURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	agentTurnCh := make(chan struct{}, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, cfg.role, agentTurnCh, readErrCh)

	latencies := make([]time.Duration, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		prompt := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("perfturns: turn %d/%d role=%s prompt=%q\n", i+1, cfg.turns, cfg.role, prompt)
		}

		started := time.Now()
		if err := submitTurn(ctx, httpClient, cfg, prompt); err != nil {
			return fmt.Errorf("turn %d submit: %w", i+1, err)
		}
		if err := awaitAgentTurn(agentTurnCh, readErrCh, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d await agent event: %w", i+1, err)
		}
		latencies = append(latencies, time.Since(started))

		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(latencies)
	if err := printServerStats(ctx, httpClient, cfg.baseURL); err != nil && cfg.verbose {
		fmt.Fprintf(os.Stderr, "perfturns: server stats unavailable: %v\n", err)
	}
	return nil
}

func submitTurn(ctx context.Context, client *http.Client, cfg options, prompt string) error {
	payload, err := json.Marshal(map[string]string{"input": prompt})
	if err != nil {
		return err
	}
	turnURL := cfg.baseURL + "/v1/agents/" + url.PathEscape(cfg.role) + "/turns"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, turnURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func eventsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events/ws"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, role string, agentTurnCh chan<- struct{}, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != "turn_appended" || env.Role != role || env.Turn.Speaker != "agent" {
			continue
		}
		select {
		case agentTurnCh <- struct{}{}:
		default:
		}
	}
}

func awaitAgentTurn(agentTurnCh <-chan struct{}, readErrCh <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-agentTurnCh:
		return nil
	case err := <-readErrCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}

func printSummary(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p50 := sorted[len(sorted)/2]
	p95idx := (len(sorted) * 95) / 100
	if p95idx >= len(sorted) {
		p95idx = len(sorted) - 1
	}
	p95 := sorted[p95idx]
	fmt.Printf("perfturns: %d turns avg=%s p50=%s p95=%s max=%s\n",
		len(sorted), (total / time.Duration(len(sorted))).Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), sorted[len(sorted)-1].Round(time.Millisecond))
}

func printServerStats(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/turns", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", res.StatusCode)
	}
	fmt.Printf("perfturns: server stage stats: %s\n", strings.TrimSpace(string(body)))
	return nil
}
