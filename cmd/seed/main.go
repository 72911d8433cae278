// Seed program: creates database file "people.db" with a handful of sample
// rows and reads them back.
// Run: go run ./cmd/seed
// Then inspect: people.db plus its .pidx and .sidx index files.
package main

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"ChainDB/database"
	"ChainDB/logging"
)

const dataPath = "people.db"

func main() {
	if err := logging.InitDefault(); err != nil {
		log.Fatalf("init logging: %v", err)
	}

	db, err := database.Open(dataPath, database.DefaultOptions())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	rows := []database.Row{
		{ID: uuid.New(), Nationality: "DE", Age: 30, Payload: []byte("alice")},
		{ID: uuid.New(), Nationality: "DE", Age: 30, Payload: []byte("bob")},
		{ID: uuid.New(), Nationality: "DE", Age: 31, Payload: []byte("carol")},
		{ID: uuid.New(), Nationality: "FR", Age: 30, Payload: []byte("denis")},
		{ID: uuid.New(), Nationality: "IT", Age: 25, Payload: []byte("elena")},
	}
	for _, row := range rows {
		if err := db.Insert(row); err != nil {
			log.Fatalf("insert %s: %v", row.ID, err)
		}
	}
	fmt.Printf("Inserted %d rows into %s\n", len(rows), dataPath)

	fmt.Println("\n--- Find by id ---")
	for _, row := range rows {
		got, err := db.Find(row.ID)
		if err != nil {
			log.Fatalf("find %s: %v", row.ID, err)
		}
		fmt.Printf("%s  %s/%d  %q\n", got.ID, got.Nationality, got.Age, got.Payload)
	}

	fmt.Println("\n--- FindBy (DE, 30) ---")
	it := db.FindBy("DE", 30)
	for it.Next() {
		row := it.Row()
		fmt.Printf("%s  %q\n", row.ID, row.Payload)
	}
	if err := it.Err(); err != nil {
		log.Fatalf("scan: %v", err)
	}

	fmt.Println("\nDone. Inspect:")
	fmt.Println("  - Data file:       ", dataPath)
	fmt.Println("  - Primary index:   ", dataPath+database.PrimaryIndexSuffix)
	fmt.Println("  - Secondary index: ", dataPath+database.SecondaryIndexSuffix)
}
