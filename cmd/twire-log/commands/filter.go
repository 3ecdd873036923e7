package commands

import (
	"fmt"
	"io"

	"github.com/tradewire-protocol/tradewire-go/pkg/log"
)

// RunFilter copies matching events into a new capture file.
func RunFilter(path string, filter Filter, output string) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer reader.Close()

	writer, err := log.NewFileLogger(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer writer.Close()

	var kept int
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		writer.Log(event)
		kept++
	}

	fmt.Printf("Wrote %d events to %s\n", kept, output)
	return nil
}
