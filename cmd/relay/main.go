package main

import (
	"log"

	"relay/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("relay: %v", err)
	}
}
