package main

import (
	"context"
	"log"
)

// Downstream is a named consumer of DisplayData updates
type Downstream struct {
	Name string
	Ch   chan<- DisplayData
}

// broadcastWorker receives DisplayData and fans out to multiple downstream workers.
// Returns the number of dropped updates per consumer name when ctx is done.
func broadcastWorker(ctx context.Context, inputChan <-chan DisplayData, outputs []Downstream) map[string]int {
	dropped := make(map[string]int, len(outputs))

	for {
		select {
		case data := <-inputChan:
			// Non-blocking sends so a slow consumer can't stall the others
			for _, out := range outputs {
				select {
				case out.Ch <- data:
				case <-ctx.Done():
					return dropped
				default:
					dropped[out.Name]++
					log.Printf("Warning: %s is behind, dropping update (%d dropped so far)\n", out.Name, dropped[out.Name])
				}
			}

		case <-ctx.Done():
			return dropped
		}
	}
}
