package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	requestIDs  string
)

// Metrics
var (
	totalRequests    uint64
	executed         uint64 // 200 OK, decision applied
	alreadyProcessed uint64 // 409, lost the claim race
	rejectedBusiness uint64 // 422, terminal business failure
	transient        uint64 // 503, lock contention
	failOther        uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&requestIDs, "requests", "", "Comma-separated pending request ids to hammer")
}

func main() {
	flag.Parse()
	if requestIDs == "" {
		log.Fatal("pass -requests with at least one pending request id")
	}
	ids := splitIDs(requestIDs)
	log.Printf("Starting Benchmark: %d request(s) | Workers: %d | Duration: %s", len(ids), concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, ids)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker fires approve decisions at the shared request set. With every
// worker targeting the same pending ids, exactly one 200 per id is the
// expected outcome; everything else should come back 409.
func worker(wg *sync.WaitGroup, start time.Time, ids []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	i := 0
	for time.Since(start) < duration {
		id := ids[i%len(ids)]
		i++

		payload := map[string]interface{}{
			"action":     "approve",
			"actor_kind": "system",
			"actor_id":   "benchmark",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", fmt.Sprintf("%s/api/v1/orders/%s/decision", targetURL, id), bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&executed, 1)
		case 409:
			atomic.AddUint64(&alreadyProcessed, 1)
		case 422:
			atomic.AddUint64(&rejectedBusiness, 1)
		case 503:
			atomic.AddUint64(&transient, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(elapsed time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	fmt.Println("--- Results ---")
	fmt.Printf("Elapsed:            %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Total requests:     %d (%.0f rps)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Executed (200):     %d\n", atomic.LoadUint64(&executed))
	fmt.Printf("Replayed (409):     %d\n", atomic.LoadUint64(&alreadyProcessed))
	fmt.Printf("Business fail(422): %d\n", atomic.LoadUint64(&rejectedBusiness))
	fmt.Printf("Transient (503):    %d\n", atomic.LoadUint64(&transient))
	fmt.Printf("Other failures:     %d\n", atomic.LoadUint64(&failOther))
}

func splitIDs(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
