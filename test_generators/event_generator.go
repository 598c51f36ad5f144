package test_generators

import (
	"fmt"
	"math/rand"
	"time"
)

// EventGenerator generates realistic Zulip events for testing. Events are
// plain maps so they can be handed straight to the mock server.
type EventGenerator struct {
	rand    *rand.Rand
	streams []string
	topics  []string
	users   []string
	phrases []string
	types   []string
}

// NewEventGenerator creates a new event generator
func NewEventGenerator(seed int64) *EventGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &EventGenerator{
		rand: rand.New(rand.NewSource(seed)),
		streams: []string{
			"general", "engineering", "design", "announce", "random",
			"support", "ops", "releases", "weather", "social",
		},
		topics: []string{
			"deploys", "standup", "lunch", "incident review", "roadmap",
			"hiring", "release notes", "on-call", "offsite", "bugs",
		},
		users: []string{
			"iago@example.com", "othello@example.com", "desdemona@example.com",
			"cordelia@example.com", "hamlet@example.com", "prospero@example.com",
		},
		phrases: []string{
			"Shipping %s today.",
			"Can someone review %s?",
			"Heads up: %s is paused.",
			"%s looks good to me.",
			"Notes from %s are in the doc.",
		},
		// Weighted toward messages, as real queues are.
		types: []string{
			"message", "message", "message", "message",
			"typing", "presence", "reaction", "update_message_flags", "subscription",
		},
	}
}

// BatchOptions controls batch generation
type BatchOptions struct {
	// HeartbeatRate is the probability (0 to 1) that a batch is a single
	// heartbeat instead of content.
	HeartbeatRate float64

	// MessagesOnly restricts content batches to message events.
	MessagesOnly bool
}

// GenerateMessage creates a message event
func (g *EventGenerator) GenerateMessage(id int64) map[string]any {
	stream := g.randElement(g.streams)
	topic := g.randElement(g.topics)
	return map[string]any{
		"id":   id,
		"type": "message",
		"message": map[string]any{
			"id":                1000 + id,
			"type":              "stream",
			"display_recipient": stream,
			"subject":           topic,
			"sender_email":      g.randElement(g.users),
			"content":           fmt.Sprintf(g.randElement(g.phrases), topic),
			"timestamp":         time.Now().Unix() - int64(g.rand.Intn(3600)),
		},
		"flags": []string{},
	}
}

// GenerateEvent creates an event of a random type
func (g *EventGenerator) GenerateEvent(id int64) map[string]any {
	switch g.randElement(g.types) {
	case "typing":
		op := "start"
		if g.rand.Intn(2) == 0 {
			op = "stop"
		}
		return map[string]any{
			"id":     id,
			"type":   "typing",
			"op":     op,
			"sender": map[string]any{"email": g.randElement(g.users)},
		}
	case "presence":
		return map[string]any{
			"id":               id,
			"type":             "presence",
			"email":            g.randElement(g.users),
			"server_timestamp": float64(time.Now().Unix()),
		}
	case "reaction":
		op := "add"
		if g.rand.Intn(3) == 0 {
			op = "remove"
		}
		return map[string]any{
			"id":         id,
			"type":       "reaction",
			"op":         op,
			"message_id": 1000 + g.rand.Int63n(id+1),
			"emoji_name": "thumbs_up",
		}
	case "update_message_flags":
		return map[string]any{
			"id":       id,
			"type":     "update_message_flags",
			"op":       "add",
			"flag":     "read",
			"messages": []int64{1000 + g.rand.Int63n(id+1)},
		}
	case "subscription":
		return map[string]any{
			"id":         id,
			"type":       "subscription",
			"op":         "peer_add",
			"stream_ids": []int{g.rand.Intn(len(g.streams)) + 1},
			"user_ids":   []int{g.rand.Intn(len(g.users)) + 1},
		}
	default:
		return g.GenerateMessage(id)
	}
}

// GenerateBatch creates size content events with consecutive ids starting at
// firstID.
func (g *EventGenerator) GenerateBatch(firstID int64, size int, opts BatchOptions) []map[string]any {
	batch := make([]map[string]any, size)
	for i := 0; i < size; i++ {
		id := firstID + int64(i)
		if opts.MessagesOnly {
			batch[i] = g.GenerateMessage(id)
		} else {
			batch[i] = g.GenerateEvent(id)
		}
	}
	return batch
}

// GenerateScript creates a sequence of batches as a long-poll would see
// them. Heartbeat batches consume an id like any other event. The returned
// count is the number of content events across all batches.
func (g *EventGenerator) GenerateScript(batches, size int, opts BatchOptions) ([][]map[string]any, int) {
	script := make([][]map[string]any, 0, batches)
	nextID := int64(0)
	content := 0

	for len(script) < batches {
		if opts.HeartbeatRate > 0 && g.rand.Float64() < opts.HeartbeatRate {
			script = append(script, []map[string]any{{"id": nextID, "type": "heartbeat"}})
			nextID++
			continue
		}
		n := 1 + g.rand.Intn(size)
		script = append(script, g.GenerateBatch(nextID, n, opts))
		nextID += int64(n)
		content += n
	}

	return script, content
}

func (g *EventGenerator) randElement(items []string) string {
	return items[g.rand.Intn(len(items))]
}
