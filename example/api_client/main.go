// Command api_client drives a running `bulkmail serve`: it starts a small
// campaign, follows its progress stream and prints the final summary.
// Point the server at `bulkmail relay` to try it without real delivery.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

type createResponse struct {
	CampaignID string `json:"campaign_id"`
	Recipients int    `json:"recipients"`
	Duplicates int    `json:"duplicates"`
}

type summaryResponse struct {
	Status      string  `json:"status"`
	SentCount   int     `json:"sent_count"`
	FailedCount int     `json:"failed_count"`
	SuccessRate float64 `json:"success_rate"`
}

func main() {
	baseURL := getenvDefault("BULKMAIL_URL", "http://localhost:3025")

	payload := map[string]any{
		"plan": map[string]any{
			"subject":     "Hello from bulkmail",
			"body":        "Hi {{ name|default('there') }},\n\n{{ message }}\n\n{{ sender_name }}",
			"message":     "This is a dry run through the local relay.",
			"sender_name": "bulkmail example",
			"batch_size":  2,
			"batch_delay": "1s",
		},
		"columns": []string{"email", "name"},
		"rows": [][]string{
			{"test1@bulkmail.local", "Test One"},
			{"test2@bulkmail.local", "Test Two"},
			{"test3@bulkmail.local", ""},
			{"test1@bulkmail.local", "Duplicate"},
			{"not-an-address", "Broken"},
		},
	}

	created := createCampaign(baseURL, payload)
	fmt.Printf("campaign %s: %d recipients, %d duplicates dropped\n", created.CampaignID, created.Recipients, created.Duplicates)

	follow(baseURL, created.CampaignID)

	summary := getSummary(baseURL, created.CampaignID)
	fmt.Printf("status=%s sent=%d failed=%d success=%.1f%%\n", summary.Status, summary.SentCount, summary.FailedCount, summary.SuccessRate)
}

func createCampaign(baseURL string, payload map[string]any) createResponse {
	body, err := json.Marshal(payload)
	if err != nil {
		fail("encode request", err)
	}
	resp, err := http.Post(baseURL+"/api/campaigns", "application/json", bytes.NewReader(body))
	if err != nil {
		fail("create campaign", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		fail("create campaign", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fail("decode campaign", err)
	}
	return out
}

// follow prints progress events until the run reports done.
func follow(baseURL, id string) {
	resp, err := http.Get(baseURL + "/api/campaigns/" + id + "/stream")
	if err != nil {
		fail("open stream", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Printf("%-8s %s\n", event, strings.TrimPrefix(line, "data: "))
			if event == "done" {
				return
			}
		}
	}
}

func getSummary(baseURL, id string) summaryResponse {
	resp, err := http.Get(baseURL + "/api/campaigns/" + id)
	if err != nil {
		fail("get campaign", err)
	}
	defer resp.Body.Close()
	var out summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fail("decode summary", err)
	}
	return out
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
