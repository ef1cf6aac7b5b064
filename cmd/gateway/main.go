package main

import (
	"log"
)

func main() {
	if err := Execute(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}
