// Package commands implements the twire-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
)

// Filter selects events by the criteria given on the command line.
type Filter = log.Filter

// BuildFilter parses the command-line filter flags. Empty strings
// match everything.
func BuildFilter(connID, direction, layer, category, topic string) (Filter, error) {
	filter := Filter{
		ConnectionID: connID,
		Topic:        topic,
	}

	if direction != "" {
		d, err := parseDirection(direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if layer != "" {
		l, err := parseLayer(layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if category != "" {
		c, err := parseCategory(category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}

	return filter, nil
}

// parseDirection parses a direction string (case-insensitive).
func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// parseLayer parses a layer string (case-insensitive).
func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "chunk":
		return log.LayerChunk, nil
	case "wire":
		return log.LayerWire, nil
	case "connection":
		return log.LayerConnection, nil
	case "router":
		return log.LayerRouter, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be chunk, wire, connection, or router)", s)
	}
}

// parseCategory parses a category string (case-insensitive).
func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "drop":
		return log.CategoryDrop, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, drop, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Chunk != nil:
		typeLabel = "Chunk"
	case event.Heartbeat != nil:
		typeLabel = event.Heartbeat.Type.String()
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Drop != nil:
		typeLabel = "Drop"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Message"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, event.Layer, typeLabel)

	if event.Topic != "" {
		fmt.Fprintf(w, "  Topic: %s\n", event.Topic)
	}
	if event.StreamID != 0 {
		fmt.Fprintf(w, "  Stream: %d\n", event.StreamID)
	}

	switch {
	case event.Chunk != nil:
		formatChunkDetails(w, event.Chunk)
	case event.Heartbeat != nil:
		formatHeartbeatDetails(w, event.Heartbeat)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Drop != nil:
		formatDropDetails(w, event.Drop)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatChunkDetails(w io.Writer, chunk *log.ChunkEvent) {
	fmt.Fprintf(w, "  MessageID: %s\n", shortenConnID(chunk.MessageID))
	fmt.Fprintf(w, "  Sequence: %d/%d\n", chunk.Sequence+1, chunk.Total)
	fmt.Fprintf(w, "  Size: %d bytes\n", chunk.Size)
}

func formatHeartbeatDetails(w io.Writer, hb *log.HeartbeatEvent) {
	if hb.Missed > 0 {
		fmt.Fprintf(w, "  Missed: %d\n", hb.Missed)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatDropDetails(w io.Writer, drop *log.DropEvent) {
	fmt.Fprintf(w, "  Subscription: %d\n", drop.SubscriptionID)
	fmt.Fprintf(w, "  QueueDepth: %d\n", drop.QueueDepth)
	fmt.Fprintf(w, "  Policy: %s\n", drop.Policy)
}

func formatErrorDetails(w io.Writer, errEvent *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", errEvent.Layer)
	fmt.Fprintf(w, "  Message: %s\n", errEvent.Message)
	if errEvent.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", errEvent.Context)
	}
}
