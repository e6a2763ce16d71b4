// Package loadtest provides load testing utilities for the cache.
//
// It builds a synthetic restaurant hierarchy and simulates many concurrent
// readers walking it, optionally while a writer keeps upserting, to check
// that navigation queries stay fast and live queries stay consistent.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/falcon/restaurants/internal/cache/db"
	"github.com/falcon/restaurants/internal/cache/schema"
)

// TestDatabase represents a populated test database for load testing.
type TestDatabase struct {
	DB            *db.DB
	RestaurantIDs []string
	BranchIDs     []string
	MealIDs       []string
	TotalRecords  int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestDatabase creates a new test database with a three-level hierarchy.
//
// The database is populated with:
//   - numRestaurants root restaurants
//   - branchesPer sub-restaurants under every root
//   - mealsPer leaf records under every sub-restaurant
//
// Timestamps increase in insertion order, so the watermark is the last meal.
func CreateTestDatabase(dbPath string, numRestaurants, branchesPer, mealsPer int) (*TestDatabase, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Optimize connection pool for concurrent readers
	database.RawDB().SetMaxOpenConns(64)
	database.RawDB().SetMaxIdleConns(16)
	database.RawDB().SetConnMaxLifetime(10 * time.Minute)

	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	td := &TestDatabase{DB: database}
	records := generateHierarchy(td, numRestaurants, branchesPer, mealsPer)

	if _, err := database.UpsertAll(context.Background(), records); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to populate database: %w", err)
	}
	td.TotalRecords = len(records)

	return td, nil
}

// Close closes the test database connection.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// generateHierarchy builds the records and fills in td's id lists.
func generateHierarchy(td *TestDatabase, numRestaurants, branchesPer, mealsPer int) []schema.Record {
	records := make([]schema.Record, 0, numRestaurants*(1+branchesPer*(1+mealsPer)))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := func(id, parentID, name string) schema.Record {
		r := schema.Record{
			ID:        id,
			ParentID:  parentID,
			Name:      name,
			ImageURL:  "https://img.example.com/" + id + ".png",
			Active:    "1",
			UpdatedAt: schema.FormatTimestamp(base.Add(time.Duration(len(records)) * time.Second)),
		}
		records = append(records, r)
		return r
	}

	for i := 0; i < numRestaurants; i++ {
		root := next(fmt.Sprintf("r-%04d", i), schema.RootParentID, fmt.Sprintf("Restaurant %d", i))
		td.RestaurantIDs = append(td.RestaurantIDs, root.ID)

		for j := 0; j < branchesPer; j++ {
			branch := next(fmt.Sprintf("%s-b%02d", root.ID, j), root.ID, fmt.Sprintf("Branch %d.%d", i, j))
			td.BranchIDs = append(td.BranchIDs, branch.ID)

			for k := 0; k < mealsPer; k++ {
				meal := next(fmt.Sprintf("%s-m%02d", branch.ID, k), branch.ID, fmt.Sprintf("Meal %d.%d.%d", i, j, k))
				td.MealIDs = append(td.MealIDs, meal.ID)
			}
		}
	}
	return records
}

// RunConcurrentQueries simulates N concurrent readers navigating the hierarchy.
//
// Each query picks a random non-leaf record, lists its children and checks
// whether the first child has children of its own, the way a selection is
// resolved. Returns aggregated latency statistics.
func (td *TestDatabase) RunConcurrentQueries(numReaders int, queriesPerReader int) (*LatencyStats, error) {
	parents := append([]string{schema.RootParentID}, td.RestaurantIDs...)
	parents = append(parents, td.BranchIDs...)

	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, numReaders)
	errorsChan := make(chan error, numReaders)

	for i := 0; i < numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(readerID)))
			durations := make([]time.Duration, 0, queriesPerReader)
			ctx := context.Background()

			for j := 0; j < queriesPerReader; j++ {
				parentID := parents[rng.Intn(len(parents))]
				start := time.Now()

				children, err := td.DB.ListByParentIDContext(ctx, parentID)
				if err == nil && len(children) > 0 {
					_, err = td.DB.HasChildrenContext(ctx, children[0].ID)
				}
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("reader %d query %d failed: %w", readerID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for range errorsChan {
		errorCount++
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful queries completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount

	return stats, nil
}

// VerifyLiveConsistency opens numSubscribers live queries on the root level
// while writes new restaurants are inserted one at a time.
//
// Every subscriber must see sequence numbers increase by one, never see the
// level shrink, and finish with every inserted restaurant present.
func (td *TestDatabase) VerifyLiveConsistency(numSubscribers, writes int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	initial := len(td.RestaurantIDs)
	want := initial + writes

	var wg sync.WaitGroup
	errorsChan := make(chan error, numSubscribers+1)

	for i := 0; i < numSubscribers; i++ {
		sub, err := td.DB.GetByParentID(ctx, schema.RootParentID)
		if err != nil {
			return fmt.Errorf("subscriber %d failed to subscribe: %w", i, err)
		}

		wg.Add(1)
		go func(subID int) {
			defer wg.Done()
			defer sub.Close()

			var lastSeq uint64
			lastLen := 0
			for {
				select {
				case <-ctx.Done():
					errorsChan <- fmt.Errorf("subscriber %d timed out at %d of %d records", subID, lastLen, want)
					return
				case snap, ok := <-sub.Snapshots():
					if !ok {
						errorsChan <- fmt.Errorf("subscriber %d closed early", subID)
						return
					}
					if snap.Err != nil {
						errorsChan <- fmt.Errorf("subscriber %d got error snapshot: %w", subID, snap.Err)
						return
					}
					if snap.Seq != lastSeq+1 {
						errorsChan <- fmt.Errorf("subscriber %d saw seq %d after %d", subID, snap.Seq, lastSeq)
						return
					}
					if len(snap.Records) < lastLen {
						errorsChan <- fmt.Errorf("subscriber %d saw level shrink from %d to %d", subID, lastLen, len(snap.Records))
						return
					}
					lastSeq, lastLen = snap.Seq, len(snap.Records)
					if lastLen == want {
						return
					}
				}
			}
		}(i)
	}

	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for w := 0; w < writes; w++ {
		id := fmt.Sprintf("live-%04d", w)
		r := schema.Record{
			ID:        id,
			ParentID:  schema.RootParentID,
			Name:      "Live " + id,
			ImageURL:  "https://img.example.com/" + id + ".png",
			Active:    "1",
			UpdatedAt: schema.FormatTimestamp(base.Add(time.Duration(w) * time.Second)),
		}
		if _, err := td.DB.UpsertContext(ctx, r); err != nil {
			errorsChan <- fmt.Errorf("write %d failed: %w", w, err)
			break
		}
	}
	td.RestaurantIDs = append(td.RestaurantIDs, liveIDs(writes)...)
	td.TotalRecords += writes

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

func liveIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("live-%04d", i)
	}
	return ids
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// GetStats returns statistics about the test database.
func (td *TestDatabase) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_records": td.TotalRecords,
		"restaurants":   len(td.RestaurantIDs),
		"branches":      len(td.BranchIDs),
		"meals":         len(td.MealIDs),
	}
}
