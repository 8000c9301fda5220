package main

import (
	"log"

	approuters "github.com/Sacesta/EVENT-PIC-BE-sub001/internal/app_routers"
	"github.com/Sacesta/EVENT-PIC-BE-sub001/internal/configuration"
)

func main() {
	container, err := configuration.BuildContainer("config.json")
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	// Setup routers
	approuters.StartServer(container)
}
