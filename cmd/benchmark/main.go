// Benchmark tool for testing Tripwire against synthetic travel trajectories.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -users 2000 -fraud-rate 0.2
//
// This tool:
//  1. Generates one business trip per synthetic user, honest or with a planted fraud pattern
//  2. Sends each user's events to Tripwire for evaluation
//  3. Compares Tripwire's verdict (ALRT/NALT) with the planted label
//  4. Calculates precision, recall, F1-score, and confusion matrix per pattern
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Scenario names the pattern planted in a synthetic trip.
type Scenario string

const (
	Honest            Scenario = "honest"
	DoubleHotel       Scenario = "double-hotel"
	FlightRailOverlap Scenario = "flight-rail"
	ReversedTransport Scenario = "reverse-time"
	HighTaxi          Scenario = "high-taxi"
	FuelOverTank      Scenario = "fuel-over-tank"
)

var fraudScenarios = []Scenario{DoubleHotel, FlightRailOverlap, ReversedTransport, HighTaxi, FuelOverTank}

// Trip is one user's batch of events with its planted label.
type Trip struct {
	UserID   string
	Scenario Scenario
	Events   []Event
}

// IsFraud reports whether a fraud pattern was planted.
func (t Trip) IsFraud() bool { return t.Scenario != Honest }

// Event mirrors the Tripwire event wire format.
type Event struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	Kind     string    `json:"kind"`
	Window   Window    `json:"window"`
	Location *Location `json:"location,omitempty"`
	From     *Location `json:"from,omitempty"`
	To       *Location `json:"to,omitempty"`
	Amount   float64   `json:"amount,omitempty"`
	Hotel    *Hotel    `json:"hotel,omitempty"`
}

type Window struct {
	EarliestStart time.Time  `json:"earliestStart"`
	LatestEnd     time.Time  `json:"latestEnd"`
	ExactStart    *time.Time `json:"exactStart,omitempty"`
	ExactEnd      *time.Time `json:"exactEnd,omitempty"`
}

type Location struct {
	City  string `json:"city"`
	Place string `json:"place,omitempty"`
}

type Hotel struct {
	HotelName string `json:"hotelName"`
}

// EvaluateRequest is the Tripwire API request format
type EvaluateRequest struct {
	Events []Event `json:"events"`
}

// EvaluateResponse is the subset of the Tripwire API response we read
type EvaluateResponse struct {
	Report struct {
		ID       string  `json:"id"`
		Status   string  `json:"status"` // "ALRT" or "NALT"
		Score    float64 `json:"score"`
		Findings []struct {
			RuleID string `json:"ruleId"`
		} `json:"findings"`
	} `json:"report"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud detected as ALRT
	FalsePositives int64 // Honest trip detected as ALRT
	TrueNegatives  int64 // Honest trip detected as NALT
	FalseNegatives int64 // Fraud detected as NALT (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalHonest    int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu       sync.Mutex
	detected map[Scenario][2]int64 // scenario -> {caught, total}
}

func (m *Metrics) recordScenario(s Scenario, caught bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detected == nil {
		m.detected = make(map[Scenario][2]int64)
	}
	c := m.detected[s]
	if caught {
		c[0]++
	}
	c[1]++
	m.detected[s] = c
}

var cities = []string{"Beijing", "Shanghai", "Guangzhou", "Shenzhen", "Chengdu", "Wuhan"}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Tripwire base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	users := flag.Int("users", 1000, "Number of synthetic users (one trip each)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.2, "Share of trips carrying a fraud pattern (0.0-1.0)")
	seed := flag.Uint64("seed", 42, "Random seed for trip generation")
	verbose := flag.Bool("verbose", false, "Print each trip result")
	flag.Parse()

	if *users <= 0 || *fraudRate < 0 || *fraudRate > 1 {
		fmt.Println("Usage: benchmark [-url http://localhost:8080] [-users 1000] [-fraud-rate 0.2]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        TRIPWIRE BENCHMARK - Synthetic Travel Trajectories     ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTripwire URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Users:        %d\n", *users)
	fmt.Printf("Fraud Rate:   %.2f\n", *fraudRate)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	// Check Tripwire is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Tripwire not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Tripwire is running:")
		fmt.Println("  go run ./cmd/tripwire serve")
		os.Exit(1)
	}
	fmt.Println("✓ Tripwire is healthy")

	trips := generateTrips(rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)), *users, *fraudRate)
	fraudCount := 0
	for _, trip := range trips {
		if trip.IsFraud() {
			fraudCount++
		}
	}
	fmt.Printf("✓ Generated %d trips\n", len(trips))
	fmt.Printf("  - Fraud:  %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(trips)))
	fmt.Printf("  - Honest: %d (%.2f%%)\n", len(trips)-fraudCount, 100*float64(len(trips)-fraudCount)/float64(len(trips)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(trips, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generateTrips(rng *rand.Rand, users int, fraudRate float64) []Trip {
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // a Monday
	trips := make([]Trip, 0, users)
	for i := 0; i < users; i++ {
		scenario := Honest
		if rng.Float64() < fraudRate {
			scenario = fraudScenarios[rng.IntN(len(fraudScenarios))]
		}
		day := base.AddDate(0, 0, 7*rng.IntN(8)+rng.IntN(4))
		trips = append(trips, buildTrip(rng, fmt.Sprintf("user-%05d", i), scenario, day))
	}
	return trips
}

// buildTrip lays out an honest outbound trip (flight, taxi to hotel, one
// night) and then plants the scenario's pattern on top of it.
func buildTrip(rng *rand.Rand, userID string, scenario Scenario, day time.Time) Trip {
	origin := cities[rng.IntN(len(cities))]
	dest := cities[rng.IntN(len(cities))]
	for dest == origin {
		dest = cities[rng.IntN(len(cities))]
	}

	n := 0
	id := func() string {
		n++
		return fmt.Sprintf("%s-e%d", userID, n)
	}

	depart := day.Add(time.Duration(7+rng.IntN(3)) * time.Hour)
	land := depart.Add(2*time.Hour + time.Duration(rng.IntN(60))*time.Minute)
	taxiStart := land.Add(40 * time.Minute)
	checkIn := day.Add(15 * time.Hour)
	checkOut := day.Add(35 * time.Hour)

	events := []Event{
		{
			ID: id(), UserID: userID, Kind: "flight",
			Window: exact(depart, land),
			From:   &Location{City: origin}, To: &Location{City: dest},
			Amount: 600 + float64(rng.IntN(900)),
		},
		{
			ID: id(), UserID: userID, Kind: "taxi",
			Window: exact(taxiStart, taxiStart.Add(35*time.Minute)),
			From:   &Location{City: dest, Place: "Airport"}, To: &Location{City: dest, Place: "Central Hotel"},
			Amount: 20 + float64(rng.IntN(25)),
		},
		{
			ID: id(), UserID: userID, Kind: "hotel",
			Window:   exact(checkIn, checkOut),
			Location: &Location{City: dest, Place: "Central Hotel"},
			Hotel:    &Hotel{HotelName: "Central Hotel"},
			Amount:   300 + float64(rng.IntN(300)),
		},
	}

	switch scenario {
	case DoubleHotel:
		other := cities[rng.IntN(len(cities))]
		events = append(events, Event{
			ID: id(), UserID: userID, Kind: "hotel",
			Window:   exact(checkIn.Add(time.Hour), checkOut),
			Location: &Location{City: other, Place: "Riverside Inn"},
			Hotel:    &Hotel{HotelName: "Riverside Inn"},
			Amount:   250 + float64(rng.IntN(300)),
		})
	case FlightRailOverlap:
		events = append(events, Event{
			ID: id(), UserID: userID, Kind: "railway",
			Window: exact(depart.Add(30*time.Minute), land.Add(time.Hour)),
			From:   &Location{City: origin}, To: &Location{City: dest},
			Amount: 400 + float64(rng.IntN(200)),
		})
	case ReversedTransport:
		back := checkOut.Add(2 * time.Hour)
		events = append(events, Event{
			ID: id(), UserID: userID, Kind: "railway",
			Window: exact(back, back.Add(-3*time.Hour)),
			From:   &Location{City: dest}, To: &Location{City: origin},
			Amount: 400 + float64(rng.IntN(200)),
		})
	case HighTaxi:
		events[1].Amount = 180 + float64(rng.IntN(400))
	case FuelOverTank:
		at := checkOut.Add(time.Hour)
		events = append(events, Event{
			ID: id(), UserID: userID, Kind: "fuel",
			Window:   exact(at, at.Add(10*time.Minute)),
			Location: &Location{City: dest, Place: "Highway Station"},
			Amount:   1200 + float64(rng.IntN(600)),
		})
	}

	return Trip{UserID: userID, Scenario: scenario, Events: events}
}

func exact(start, end time.Time) Window {
	s, e := start, end
	return Window{EarliestStart: start, LatestEnd: end, ExactStart: &s, ExactEnd: &e}
}

func runBenchmark(trips []Trip, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Trip, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for trip := range work {
				start := time.Now()
				result, err := evaluateTrip(client, baseURL, tenantID, trip)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", trip.UserID, err)
					}
					continue
				}

				// Track actual labels
				actual := trip.IsFraud()
				if actual {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalHonest, 1)
				}

				// Calculate confusion matrix
				predicted := result.Report.Status == "ALRT"
				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}
				metrics.recordScenario(trip.Scenario, predicted)

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					ruleIDs := make([]string, 0, len(result.Report.Findings))
					for _, f := range result.Report.Findings {
						ruleIDs = append(ruleIDs, f.RuleID)
					}
					fmt.Printf("%s %-10s | Scenario: %-14s | Events: %d | Tripwire: %-4s (%.2f) | Rules: %v\n",
						status,
						trip.UserID,
						trip.Scenario,
						len(trip.Events),
						result.Report.Status,
						result.Report.Score,
						ruleIDs,
					)
				}
			}
		}()
	}

	// Send work
	for _, trip := range trips {
		work <- trip
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateTrip(client *http.Client, baseURL, tenantID string, trip Trip) (*EvaluateResponse, error) {
	body, err := json.Marshal(EvaluateRequest{Events: trip.Events})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Honest:     %d\n", m.TotalHonest)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    ALRT        NALT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           H  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision, recall, f1, accuracy := scores(m)

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION BY PATTERN\n")
	scenarios := make([]string, 0, len(m.detected))
	for s := range m.detected {
		scenarios = append(scenarios, string(s))
	}
	sort.Strings(scenarios)
	for _, s := range scenarios {
		c := m.detected[Scenario(s)]
		label := "alerted"
		if Scenario(s) == Honest {
			label = "false alarms"
		}
		fmt.Printf("   %-16s %d / %d %s (%.2f%%)\n", s, c[0], c[1], label, 100*float64(c[0])/float64(c[1]))
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f trips/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most planted fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some patterns")
	} else {
		fmt.Println("   ❌ Poor recall - check disabled rules and thresholds")
	}

	if precision >= 0.9 {
		fmt.Println("   ✅ Good precision - honest trips stay quiet")
	} else {
		fmt.Println("   ⚠️  Low precision - honest trips are alerting")
	}

	fmt.Println()
}

// scores derives the summary ratios from the confusion matrix.
func scores(m *Metrics) (precision, recall, f1, accuracy float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}
	return precision, recall, f1, accuracy
}
