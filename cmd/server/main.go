package main

import (
	"log"

	"facttrace"
)

func main() {
	facttrace.LoadConfig()

	store := facttrace.NewVerdictStore(facttrace.FileMirror{Path: facttrace.ResultPath})
	catalog := facttrace.NewCaseCatalog(facttrace.CasesPath, facttrace.CasesCacheTTL)
	server := facttrace.NewServer(store, catalog)

	log.Println("Starting FactTrace backend on port 8000...")
	if err := server.Router().Run(":8000"); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
