package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/domain"
	"github.com/adfharrison1/go-db-repl/pkg/repl"
	"github.com/adfharrison1/go-db-repl/pkg/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const batchSize = 100

// generateRandomName generates a random 6-letter name
func generateRandomName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	name := make([]byte, 6)
	for i := range name {
		name[i] = letters[rand.Intn(len(letters))]
	}
	// Capitalize first letter
	name[0] = name[0] - 32
	return string(name)
}

// makeEntry builds an insert oplog entry for a random user document.
func makeEntry(ot domain.OpTime, seq int) domain.Document {
	name := generateRandomName()
	return domain.Document{
		{Key: "ts", Value: ot.Timestamp},
		{Key: "t", Value: ot.Term},
		{Key: "op", Value: "i"},
		{Key: "ns", Value: "test.users"},
		{Key: "o", Value: bson.D{
			{Key: "_id", Value: seq},
			{Key: "name", Value: name},
			{Key: "age", Value: rand.Intn(82) + 18},
			{Key: "email", Value: strings.ToLower(name) + "@example.com"},
		}},
	}
}

// Writes oplog entries into a data directory the way a secondary applies a batch: insert the
// batch, then advance minValid to its last optime. Start the server on the same directory
// afterwards to inspect the result.
func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run test_scripts/oplog_load.go <number_of_entries> <data_dir> [oplog_ns]")
		fmt.Println("Example: go run test_scripts/oplog_load.go 10000 /tmp/go-db-repl")
		os.Exit(1)
	}

	numEntries, err := strconv.Atoi(os.Args[1])
	if err != nil || numEntries <= 0 {
		fmt.Printf("Error: Invalid number of entries '%s'. Please provide a positive integer.\n", os.Args[1])
		os.Exit(1)
	}
	dataDir := os.Args[2]
	oplogNS := "local.oplog.rs"
	if len(os.Args) >= 4 {
		oplogNS = os.Args[3]
	}
	ns, err := domain.ParseNamespace(oplogNS)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := storage.NewStorageEngine(storage.WithDataDir(dataDir), storage.WithLogger(logger))
	if err != nil {
		fmt.Printf("Error: failed to open %s: %v\n", dataDir, err)
		os.Exit(1)
	}
	defer engine.Close()

	si := repl.New(engine, repl.WithLogger(logger))
	opCtx := si.NewOperationContext("oplog-load")
	defer opCtx.Release()

	if _, err := engine.LookupCollection(ns); err != nil {
		if err := si.CreateOplog(opCtx, ns); err != nil {
			fmt.Printf("Error: failed to create %s: %v\n", ns, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Starting load test: writing %d oplog entries to %s in %s\n", numEntries, ns, dataDir)

	startTime := time.Now()
	base := uint32(startTime.Unix())
	reportInterval := max(1, numEntries/10)
	written := 0

	for written < numEntries {
		n := min(batchSize, numEntries-written)
		batch := make([]domain.Document, 0, n)
		for i := 0; i < n; i++ {
			seq := written + i
			ot := domain.NewOpTime(bson.Timestamp{T: base, I: uint32(seq + 1)}, 1)
			batch = append(batch, makeEntry(ot, seq))
		}

		last, err := si.InsertDocuments(opCtx, ns, batch)
		if err != nil {
			fmt.Printf("Error inserting batch at entry %d: %v\n", written, err)
			os.Exit(1)
		}
		if err := si.SetMinValidToAtLeast(opCtx, last); err != nil {
			fmt.Printf("Error advancing minValid: %v\n", err)
			os.Exit(1)
		}

		before := written
		written += n
		if written/reportInterval != before/reportInterval || written == numEntries {
			elapsed := time.Since(startTime)
			fmt.Printf("Progress: %d/%d entries (%.1f%%) - Rate: %.1f entries/sec\n",
				written, numEntries, float64(written)/float64(numEntries)*100, float64(written)/elapsed.Seconds())
		}
	}

	count, _ := si.GetCollectionCount(opCtx, ns)
	stats := si.Stats()
	totalTime := time.Since(startTime)

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("LOAD TEST COMPLETE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Entries written:       %d\n", numEntries)
	fmt.Printf("Entries retained:      %d\n", count)
	fmt.Printf("minValid:              %s\n", si.MinValid(opCtx))
	fmt.Printf("Units committed:       %d\n", stats.UnitsCommitted)
	fmt.Printf("WAL bytes written:     %d\n", stats.WALBytesWritten)
	fmt.Printf("Total time:            %v\n", totalTime)
	fmt.Printf("Average rate:          %.2f entries/sec\n", float64(numEntries)/totalTime.Seconds())
}
