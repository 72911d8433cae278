// inspect prints every row stored under one composite key.
// Run from repo root: go run ./cmd/inspect <path> <nationality> <age>
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"ChainDB/database"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: inspect <path> <nationality> <age>")
		os.Exit(2)
	}
	path, nationality := os.Args[1], os.Args[2]
	age, err := strconv.ParseInt(os.Args[3], 10, 32)
	if err != nil {
		log.Fatalf("parse age: %v", err)
	}

	db, err := database.Open(path, database.DefaultOptions())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	count := 0
	it := db.FindBy(nationality, int32(age))
	for it.Next() {
		row := it.Row()
		fmt.Printf("%s  %s/%d  %d payload bytes\n", row.ID, row.Nationality, row.Age, len(row.Payload))
		count++
	}
	if err := it.Err(); err != nil {
		log.Fatalf("scan: %v", err)
	}
	fmt.Printf("%d rows for (%s, %d)\n", count, nationality, age)
}
