package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:3210", "mimod server URL")
	graphID := flag.String("graph", "default", "graph id for teach/consult")
	flag.Parse()

	fmt.Println("Mimo Memory CLI")
	fmt.Printf("Server: %s | Graph: %s\n", *server, *graphID)
	fmt.Println("Commands: /teach <text>, /remember <text>, /recall <query>,")
	fmt.Println("          /closure <entity> <predicate>, /infer, /stats")
	fmt.Println("Anything else is a consult query. 'exit' to leave.")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		switch {
		case strings.HasPrefix(input, "/teach "):
			teach(*server, *graphID, strings.TrimPrefix(input, "/teach "))
		case strings.HasPrefix(input, "/remember "):
			remember(*server, strings.TrimPrefix(input, "/remember "))
		case strings.HasPrefix(input, "/recall "):
			recall(*server, strings.TrimPrefix(input, "/recall "))
		case strings.HasPrefix(input, "/closure "):
			closure(*server, *graphID, strings.TrimPrefix(input, "/closure "))
		case input == "/infer":
			infer(*server, *graphID)
		case input == "/stats":
			stats(*server, *graphID)
		default:
			consult(*server, *graphID, input)
		}
	}
}

func teach(server, graphID, text string) {
	type candidate struct {
		CanonicalID string  `json:"canonical_id"`
		Score       float64 `json:"score"`
	}
	var out struct {
		Status           string      `json:"status"`
		TriplesCreated   int         `json:"triples_created"`
		Candidates       []candidate `json:"candidates"`
		SkippedAmbiguous []struct {
			Surface    string      `json:"surface"`
			Candidates []candidate `json:"candidates"`
		} `json:"skipped_ambiguous"`
	}
	if !post(server, "/api/memory/teach", map[string]interface{}{
		"text": text, "graph_id": graphID,
	}, &out) {
		return
	}
	if out.Status == "ambiguous" && len(out.Candidates) > 0 {
		fmt.Println("Ambiguous mention, candidates:")
		for _, c := range out.Candidates {
			fmt.Printf("  %s (%.2f)\n", c.CanonicalID, c.Score)
		}
		return
	}
	fmt.Printf("Learned %d triple(s).\n", out.TriplesCreated)
	for _, s := range out.SkippedAmbiguous {
		fmt.Printf("Skipped %q, ambiguous between:\n", s.Surface)
		for _, c := range s.Candidates {
			fmt.Printf("  %s (%.2f)\n", c.CanonicalID, c.Score)
		}
	}
}

func remember(server, content string) {
	var out struct {
		ID string `json:"id"`
	}
	if !post(server, "/api/memory/remember", map[string]interface{}{
		"content": content, "importance": 0.5,
	}, &out) {
		return
	}
	fmt.Printf("Remembered as %s\n", out.ID)
}

func recall(server, query string) {
	var out struct {
		Items []struct {
			Source  string  `json:"source"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"items"`
	}
	if !post(server, "/api/memory/recall", map[string]interface{}{"query": query}, &out) {
		return
	}
	if len(out.Items) == 0 {
		fmt.Println("Nothing recalled.")
		return
	}
	for _, item := range out.Items {
		fmt.Printf("  [%s %.2f] %s\n", item.Source, item.Score, item.Content)
	}
}

func consult(server, graphID, query string) {
	var out struct {
		Mode    string `json:"mode"`
		Results []struct {
			Kind    string  `json:"kind"`
			ID      string  `json:"id"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
			Tier    int     `json:"tier"`
		} `json:"results"`
		Suggestions []struct {
			Predicate string `json:"predicate"`
			RelatedID string `json:"related_id"`
		} `json:"suggestions"`
	}
	if !post(server, "/api/memory/consult", map[string]interface{}{
		"query": query, "graph_id": graphID,
	}, &out) {
		return
	}
	fmt.Printf("mode: %s\n", out.Mode)
	if len(out.Results) == 0 {
		fmt.Println("No results.")
	}
	for _, r := range out.Results {
		if r.Kind == "engram" {
			fmt.Printf("  [t%d %.2f] %s\n", r.Tier, r.Score, r.Content)
		} else {
			fmt.Printf("  [t%d %.2f] entity %s\n", r.Tier, r.Score, r.ID)
		}
	}
	for _, s := range out.Suggestions {
		fmt.Printf("  related: %s %s\n", s.Predicate, s.RelatedID)
	}
}

func closure(server, graphID, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		printError("usage: /closure <entity> <predicate>")
		return
	}
	var out struct {
		Closure []struct {
			EntityID   string  `json:"entity_id"`
			Confidence float64 `json:"confidence"`
			Depth      int     `json:"depth"`
		} `json:"closure"`
	}
	if !post(server, "/api/memory/consult", map[string]interface{}{
		"entity": parts[0], "predicate": parts[1], "graph_id": graphID,
	}, &out) {
		return
	}
	if len(out.Closure) == 0 {
		fmt.Println("No reachable entities.")
		return
	}
	for _, h := range out.Closure {
		fmt.Printf("  %s (%.2f, depth %d)\n", h.EntityID, h.Confidence, h.Depth)
	}
}

func infer(server, graphID string) {
	var out struct {
		Inferred  int `json:"inferred"`
		Discarded int `json:"discarded"`
	}
	if !post(server, "/api/memory/infer", map[string]interface{}{"graph_id": graphID}, &out) {
		return
	}
	fmt.Printf("Inference pass: %d inferred, %d discarded.\n", out.Inferred, out.Discarded)
}

func stats(server, graphID string) {
	resp, err := http.Get(server + "/api/stats?graph_id=" + graphID)
	if err != nil {
		printError("Failed to fetch stats: %v", err)
		return
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(pretty.String())
}

// post sends a JSON request and decodes the response into out. Returns
// false after printing the error when anything goes wrong.
func post(server, path string, body interface{}, out interface{}) bool {
	b, _ := json.Marshal(body)
	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+path, "application/json", bytes.NewReader(b))
	if err != nil {
		printError("Request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		printError("Failed to parse response: %v", err)
		return false
	}
	return true
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
