// Command throughput drives the coordinator's sheet pipeline concurrently
// to measure end-to-end throughput and latency, adapted from the
// consensus-commit concurrency benchmark's worker-pool-and-CSV-record
// shape onto the pipeline's ingest-through-score path instead of a
// cross-shard commit.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

type workflowResult struct {
	Success  bool
	Latency  time.Duration
	ErrorMsg string
}

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8080", "coordinator base URL")
	examID := flag.String("exam", "EXAM-001", "exam id to tag sheets with")
	paperID := flag.String("paper", "", "question paper id (required)")
	keyID := flag.String("key", "", "answer key id (required)")
	totalQuestions := flag.Int("questions", 10, "total questions on the paper")
	workers := flag.Int("workers", 10, "number of concurrent workers")
	duration := flag.Int("duration", 30, "test duration in seconds")
	flag.Parse()

	if *paperID == "" || *keyID == "" {
		fmt.Println("error: -paper and -key are required")
		os.Exit(1)
	}

	recordsDir := "./records"
	os.MkdirAll(recordsDir, 0755)
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(recordsDir, fmt.Sprintf("throughput_%s_w%d_d%ds.csv", timestamp, *workers, *duration))

	fmt.Println("========================================")
	fmt.Println("   PIPELINE THROUGHPUT BENCHMARK")
	fmt.Println("========================================")
	fmt.Printf("Base URL:   %s\n", *baseURL)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Duration:   %ds\n", *duration)
	fmt.Printf("Output:     %s\n", filename)
	fmt.Println("========================================")

	stopChan := make(chan struct{})
	resultsChan := make(chan workflowResult, *workers*10)

	var totalReqs, successReqs, failedReqs int64
	var totalLatencyNS int64
	var minLatencyNS int64 = 1<<63 - 1
	var maxLatencyNS int64

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c := NewHTTPClient(*baseURL)
			for {
				select {
				case <-stopChan:
					return
				default:
				}
				start := time.Now()
				err := runOneSheet(c, *examID, *paperID, *keyID, *totalQuestions, workerID)
				latency := time.Since(start)
				resultsChan <- workflowResult{Success: err == nil, Latency: latency, ErrorMsg: errString(err)}
			}
		}(i)
	}

	go func() {
		for r := range resultsChan {
			atomic.AddInt64(&totalReqs, 1)
			ns := r.Latency.Nanoseconds()
			atomic.AddInt64(&totalLatencyNS, ns)
			for {
				cur := atomic.LoadInt64(&minLatencyNS)
				if ns >= cur || atomic.CompareAndSwapInt64(&minLatencyNS, cur, ns) {
					break
				}
			}
			for {
				cur := atomic.LoadInt64(&maxLatencyNS)
				if ns <= cur || atomic.CompareAndSwapInt64(&maxLatencyNS, cur, ns) {
					break
				}
			}
			if r.Success {
				atomic.AddInt64(&successReqs, 1)
			} else {
				atomic.AddInt64(&failedReqs, 1)
			}
		}
	}()

	time.Sleep(time.Duration(*duration) * time.Second)
	close(stopChan)
	wg.Wait()
	close(resultsChan)
	time.Sleep(200 * time.Millisecond) // let the drain goroutine finish its last tick

	total := atomic.LoadInt64(&totalReqs)
	success := atomic.LoadInt64(&successReqs)
	failed := atomic.LoadInt64(&failedReqs)
	avgLatency := time.Duration(0)
	if total > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&totalLatencyNS) / total)
	}

	fmt.Println("")
	fmt.Println("========================================")
	fmt.Println("   RESULTS")
	fmt.Println("========================================")
	fmt.Printf("Total sheets:   %d\n", total)
	fmt.Printf("Successful:     %d\n", success)
	fmt.Printf("Failed:         %d\n", failed)
	fmt.Printf("Throughput:     %.2f sheets/sec\n", float64(total)/float64(*duration))
	fmt.Printf("Avg latency:    %s\n", avgLatency)
	fmt.Printf("Min latency:    %s\n", time.Duration(minLatencyNS))
	fmt.Printf("Max latency:    %s\n", time.Duration(maxLatencyNS))

	writeCSVSummary(filename, total, success, failed, *duration, avgLatency)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeCSVSummary(filename string, total, success, failed int64, duration int, avg time.Duration) {
	f, err := os.Create(filename)
	if err != nil {
		fmt.Println("warning: could not write CSV summary:", err)
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"total", "success", "failed", "duration_seconds", "avg_latency_ms"})
	w.Write([]string{
		fmt.Sprintf("%d", total),
		fmt.Sprintf("%d", success),
		fmt.Sprintf("%d", failed),
		fmt.Sprintf("%d", duration),
		fmt.Sprintf("%.2f", float64(avg.Microseconds())/1000),
	})
}
