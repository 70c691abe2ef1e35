// Stress tool: fires concurrent reservation requests at a running server
// and checks that exactly min(requests, available) of them succeed.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "server base URL")
		deviceID = flag.String("device", "d1", "device id")
		color    = flag.String("color", "black", "color")
		storage  = flag.String("storage", "128GB", "storage variant")
		requests = flag.Int("requests", 50, "concurrent requests")
		expected = flag.Int("expected", 20, "expected successes (available stock)")
	)
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	// Availability before the run, for the report.
	before, err := availability(client, *baseURL, *deviceID, *color, *storage)
	if err != nil {
		log.Fatalf("failed to read availability: %v", err)
	}

	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var errorCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			body, _ := json.Marshal(map[string]interface{}{
				"request_id": fmt.Sprintf("stress-%d-%d", start.UnixNano(), n),
				"device_id":  *deviceID,
				"color":      *color,
				"storage":    *storage,
				"quantity":   1,
			})
			resp, err := client.Post(*baseURL+"/api/reservations", "application/json", bytes.NewReader(body))
			if err != nil {
				errorCount.Add(1)
				return
			}
			resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				successCount.Add(1)
			case http.StatusConflict:
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	after, err := availability(client, *baseURL, *deviceID, *color, *storage)
	if err != nil {
		log.Fatalf("failed to read availability: %v", err)
	}

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Available Before: %d\n", before)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Created:          %d\n", success)
	fmt.Printf("Not Available:    %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Available After:  %d\n", after)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(*expected) && soldOut == int32(*requests-*expected) {
		fmt.Printf("PASS: Exactly %d reservations created, %d rejected\n", *expected, *requests-*expected)
	} else {
		fmt.Printf("FAIL: Expected %d created/%d rejected, got %d/%d\n",
			*expected, *requests-*expected, success, soldOut)
	}

	if before-int(success) == after {
		fmt.Println("PASS: Available stock decreased by exactly the created count")
	} else {
		fmt.Printf("FAIL: Expected available %d, got %d\n", before-int(success), after)
	}
}

func availability(client *http.Client, baseURL, deviceID, color, storage string) (int, error) {
	resp, err := client.Get(fmt.Sprintf("%s/api/devices/%s/availability", baseURL, deviceID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var rows []struct {
		Color             string `json:"color"`
		Storage           string `json:"storage"`
		AvailableQuantity int    `json:"available_quantity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return 0, err
	}
	for _, row := range rows {
		if row.Color == color && row.Storage == storage {
			return row.AvailableQuantity, nil
		}
	}
	return 0, fmt.Errorf("variant %s/%s/%s not found", deviceID, color, storage)
}
