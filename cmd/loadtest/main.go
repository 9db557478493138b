package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

var questions = []string{
	"What is the personal allowance for this tax year?",
	"Can I claim mileage for driving to a client site?",
	"How much can I put into an ISA each year?",
	"Do I need to register for VAT as a freelancer?",
	"When is the self assessment filing deadline?",
}

func main() {
	gateway := pflag.String("gateway", "ws://localhost:5000/ws/session", "gateway WebSocket URL")
	concurrency := pflag.Int("concurrency", 10, "number of concurrent sessions")
	duration := pflag.Duration("duration", 30*time.Second, "test duration")
	accessCode := pflag.String("access-code", "MKS2005", "access code sent with each chat")
	muted := pflag.Bool("muted", false, "mute sessions so only chat latency is measured")
	pflag.Parse()

	fmt.Printf("Load test: %d concurrent sessions for %s\n", *concurrency, *duration)
	fmt.Printf("Gateway: %s | Muted: %t\n\n", *gateway, *muted)

	var mu sync.Mutex
	var results []runResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				r := runSession(*gateway, *accessCode, *muted)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
				if r.rateLimited {
					return
				}
			}
		}()
	}

	wg.Wait()
	if !printSummary(os.Stdout, results) {
		os.Exit(1)
	}
}

type runResult struct {
	success     bool
	rateLimited bool
	fallback    bool
	replyMs     float64
	firstMs     float64
	totalMs     float64
	segments    int
	err         string
}

type event struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Persona string `json:"persona"`
	URL     string `json:"url"`
}

// runSession asks one question and acknowledges every presented segment
// immediately, standing in for a browser whose media ends instantly.
func runSession(gateway, accessCode string, muted bool) runResult {
	conn, _, err := websocket.DefaultDialer.Dial(gateway, nil)
	if err != nil {
		return runResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	if muted {
		if err = conn.WriteJSON(map[string]any{"type": "mute", "muted": true}); err != nil {
			return runResult{err: fmt.Sprintf("send mute: %v", err)}
		}
	}
	start := time.Now()
	if err = conn.WriteJSON(map[string]any{
		"type":        "chat",
		"message":     questions[rand.Intn(len(questions))],
		"access_code": accessCode,
	}); err != nil {
		return runResult{err: fmt.Sprintf("send chat: %v", err)}
	}

	var res runResult
	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			res.err = fmt.Sprintf("read: %v", err)
			return res
		}
		var ev event
		if err = json.Unmarshal(data, &ev); err != nil {
			continue
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		switch ev.Type {
		case "error":
			res.err = ev.Text
			res.rateLimited = strings.HasPrefix(ev.Text, "Rate limit exceeded")
			return res
		case "assistant":
			res.replyMs = elapsed
			if muted {
				res.success = true
				res.totalMs = elapsed
				return res
			}
		case "present":
			if res.segments == 0 {
				res.firstMs = elapsed
			}
			res.segments++
			if err = conn.WriteJSON(map[string]any{"type": "ended", "persona": ev.Persona, "url": ev.URL}); err != nil {
				res.err = fmt.Sprintf("send ended: %v", err)
				return res
			}
		case "speak_local":
			res.fallback = true
		case "idle":
			res.success = true
			res.totalMs = elapsed
			return res
		}
	}
}

// printSummary reports latency percentiles and whether any run succeeded.
func printSummary(w io.Writer, results []runResult) bool {
	var succeeded, failed, limited, fallbacks int
	var replyAll, firstAll, totalAll []float64
	errs := map[string]int{}

	for _, r := range results {
		if r.rateLimited {
			limited++
		}
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		if r.fallback {
			fallbacks++
		}
		replyAll = append(replyAll, r.replyMs)
		totalAll = append(totalAll, r.totalMs)
		if r.segments > 0 {
			firstAll = append(firstAll, r.firstMs)
		}
	}

	fmt.Fprintf(w, "\n=== Load Test Results ===\n")
	fmt.Fprintf(w, "Sessions completed: %d\n", succeeded)
	fmt.Fprintf(w, "Sessions failed:    %d (rate limited %d)\n", failed, limited)
	fmt.Fprintf(w, "Local speech:       %d\n", fallbacks)
	for msg, n := range errs {
		fmt.Fprintf(w, "  %4d x %s\n", n, msg)
	}

	if len(replyAll) == 0 {
		fmt.Fprintln(w, "No successful sessions to report metrics")
		return false
	}

	fmt.Fprintf(w, "\n%-6s %8s %8s %8s\n", "Stage", "p50", "p95", "p99")
	fmt.Fprintf(w, "%-6s %8.0fms %8.0fms %8.0fms\n", "Reply", percentile(replyAll, 50), percentile(replyAll, 95), percentile(replyAll, 99))
	if len(firstAll) > 0 {
		fmt.Fprintf(w, "%-6s %8.0fms %8.0fms %8.0fms\n", "First", percentile(firstAll, 50), percentile(firstAll, 95), percentile(firstAll, 99))
	}
	fmt.Fprintf(w, "%-6s %8.0fms %8.0fms %8.0fms\n", "Total", percentile(totalAll, 50), percentile(totalAll, 95), percentile(totalAll, 99))
	return true
}

func percentile(data []float64, pct float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
