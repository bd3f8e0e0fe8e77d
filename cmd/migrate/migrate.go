package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"rag-document-pipeline/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  indexes        - Create MongoDB collection indexes")
		fmt.Println("  atlas-indexes  - Print Atlas search index definitions to create manually")
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch command {
	case "indexes":
		// ConnectMongoDB creates collection indexes as part of connecting.
		client, err := config.ConnectMongoDB(cfg)
		if err != nil {
			log.Fatalf("Failed to create indexes: %v", err)
		}
		defer client.Disconnect(context.Background())
		fmt.Println("Collection indexes created successfully!")

	case "atlas-indexes":
		printAtlasIndexes(cfg)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

// printAtlasIndexes emits the search index definitions for the chunks
// collection. Atlas search indexes cannot be created through the driver on
// all tiers, so they are printed for the Atlas UI or CLI.
func printAtlasIndexes(cfg *config.Config) {
	vectorIndex := map[string]interface{}{
		"name": cfg.VectorIndexName,
		"type": "vectorSearch",
		"definition": map[string]interface{}{
			"fields": []map[string]interface{}{
				{
					"type":          "vector",
					"path":          "vector",
					"numDimensions": cfg.VectorDim,
					"similarity":    "cosine",
				},
				{"type": "filter", "path": "status"},
				{"type": "filter", "path": "embedding_model"},
				{"type": "filter", "path": "document_id"},
				{"type": "filter", "path": "created_at"},
			},
		},
	}

	textIndex := map[string]interface{}{
		"name": cfg.SearchIndexName,
		"type": "search",
		"definition": map[string]interface{}{
			"mappings": map[string]interface{}{
				"dynamic": false,
				"fields": map[string]interface{}{
					"text":            map[string]string{"type": "string"},
					"status":          map[string]string{"type": "token"},
					"embedding_model": map[string]string{"type": "token"},
					"document_id":     map[string]string{"type": "token"},
					"created_at":      map[string]string{"type": "date"},
				},
			},
		},
	}

	for _, index := range []map[string]interface{}{vectorIndex, textIndex} {
		out, err := json.MarshalIndent(index, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode index definition: %v", err)
		}
		fmt.Println(string(out))
		fmt.Println()
	}
}
