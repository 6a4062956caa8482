package main

import (
	"flag"
	"fmt"
	"log"

	"rdpgate/internal/config"
	"rdpgate/internal/constants"
	"rdpgate/internal/server"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s %s\n", constants.AppName, constants.Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	s, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	if err := s.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
