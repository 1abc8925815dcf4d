// Package main runs a demo WebSocket client for plan events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

const tenant = "t_demo"

type planEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func post(base, path string, body any) *http.Response {
	b, err := json.Marshal(body)
	if err != nil {
		log.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenant)
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	if resp.StatusCode >= 300 {
		log.Fatalf("POST %s: %s", path, resp.Status)
	}
	return resp
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Seed a small catalog: one lab per city
	cities := []map[string]any{
		{"id": "demo-nyc", "name": "New York", "classification": "A"},
		{"id": "demo-chi", "name": "Chicago", "classification": "A"},
		{"id": "demo-den", "name": "Denver", "classification": "B"},
		{"id": "demo-boi", "name": "Boise", "classification": "C"},
	}
	for _, c := range cities {
		_ = post(base, "/v1/cities", c).Body.Close()
		_ = post(base, "/v1/nodes", map[string]any{"id": c["id"].(string) + "-lab", "cityId": c["id"], "name": c["name"].(string) + " lab"}).Body.Close()
	}

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/events/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", tenant)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	acked := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m planEvent
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			data, _ := json.Marshal(m.Data)
			log.Printf("WS <- %s: %s", m.Type, data)
			if m.Type == "connection_ack" {
				close(acked)
			}
		}
	}()

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		log.Fatal("no connection_ack")
	}

	// Generate a quarter's plan to trigger a plan.generated event
	resp := post(base, "/v1/plans/generate", map[string]any{
		"name":         "demo-q1",
		"totalSamples": 120,
		"startDate":    "2024-01-01",
		"endDate":      "2024-03-31",
	})
	var out struct {
		Plan struct {
			ID      string         `json:"id"`
			Summary map[string]any `json:"summary"`
		} `json:"plan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	log.Printf("Plan ID: %s summary: %v", out.Plan.ID, out.Plan.Summary)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
