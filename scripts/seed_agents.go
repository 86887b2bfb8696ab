// seed_agents.go — standalone script to register a fleet of agents from a YAML manifest via the AgentGraph API.
//
// Usage:
//
//	go run scripts/seed_agents.go -fleet fleet.yaml -api http://localhost:8610 -agent system
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

type fleet struct {
	Agents []fleetAgent `yaml:"agents"`
}

type fleetAgent struct {
	AgentID      string                 `yaml:"agent_id" json:"agent_id"`
	Name         string                 `yaml:"name" json:"name"`
	Description  string                 `yaml:"description" json:"description,omitempty"`
	Endpoint     string                 `yaml:"endpoint" json:"endpoint,omitempty"`
	Capabilities []fleetCapability      `yaml:"capabilities" json:"capabilities,omitempty"`
	Metadata     map[string]interface{} `yaml:"metadata" json:"metadata,omitempty"`
}

type fleetCapability struct {
	Name     string                 `yaml:"name" json:"name"`
	Metadata map[string]interface{} `yaml:"metadata" json:"metadata,omitempty"`
}

func main() {
	fleetPath := flag.String("fleet", "fleet.yaml", "path to fleet manifest")
	apiURL := flag.String("api", "http://localhost:8610", "AgentGraph API base URL")
	agentID := flag.String("agent", "system", "X-Agent-ID header value")
	dryRun := flag.Bool("dry-run", false, "print agents without registering")
	flag.Parse()

	data, err := os.ReadFile(*fleetPath)
	if err != nil {
		log.Fatalf("read fleet manifest: %v", err)
	}

	var f fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.Fatalf("parse fleet manifest: %v", err)
	}

	log.Printf("parsed %d agents from %s", len(f.Agents), *fleetPath)

	if *dryRun {
		for i, a := range f.Agents {
			caps := make([]string, 0, len(a.Capabilities))
			for _, c := range a.Capabilities {
				caps = append(caps, c.Name)
			}
			fmt.Printf("[%d] %s (%s) capabilities=%v endpoint=%s\n", i+1, a.AgentID, a.Name, caps, a.Endpoint)
		}
		return
	}

	client := &http.Client{}
	created, skipped := 0, 0
	for _, a := range f.Agents {
		if a.AgentID == "" || a.Name == "" {
			log.Printf("skip entry with missing agent_id or name: %+v", a)
			skipped++
			continue
		}

		body, _ := json.Marshal(a)
		req, err := http.NewRequest("POST", *apiURL+"/api/v1/registry/agents", bytes.NewReader(body))
		if err != nil {
			log.Printf("skip %q: %v", a.AgentID, err)
			skipped++
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Agent-ID", *agentID)

		resp, err := client.Do(req)
		if err != nil {
			log.Printf("skip %q: %v", a.AgentID, err)
			skipped++
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			created++
		} else {
			log.Printf("skip %q: status %d", a.AgentID, resp.StatusCode)
			skipped++
		}
	}

	log.Printf("done: %d registered, %d skipped", created, skipped)
}
