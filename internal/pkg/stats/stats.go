// Package stats keeps the process-wide crawl counters and renders them as a
// live terminal table, mirroring the crawl package's stats.go / printLiveStats
// convention (Init/Incr/Decr/Get accessors plus a uilive+uitable renderer).
package stats

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uilive"
	"github.com/gosuri/uitable"
	"github.com/paulbellamy/ratecounter"
)

var (
	mu sync.Mutex

	startTime time.Time

	urlsFetched      *ratecounter.Counter
	urlsFailed       *ratecounter.Counter
	bytesStored      *ratecounter.Counter
	fetcherRoutines  *ratecounter.Counter
	scriptRoutines   *ratecounter.Counter
	urlsPerSecond    *ratecounter.RateCounter
)

// Init (re)initializes every counter. Call once per crawl run.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	startTime = time.Now()
	urlsFetched = new(ratecounter.Counter)
	urlsFailed = new(ratecounter.Counter)
	bytesStored = new(ratecounter.Counter)
	fetcherRoutines = new(ratecounter.Counter)
	scriptRoutines = new(ratecounter.Counter)
	urlsPerSecond = ratecounter.NewRateCounter(time.Second)
	return nil
}

func init() {
	_ = Init()
}

func URLsFetchedIncr() {
	urlsFetched.Incr(1)
	urlsPerSecond.Incr(1)
}

func URLsFailedIncr() { urlsFailed.Incr(1) }

func BytesStoredAdd(n int64) { bytesStored.Incr(n) }

func FetcherRoutinesIncr() { fetcherRoutines.Incr(1) }
func FetcherRoutinesDecr() { fetcherRoutines.Incr(-1) }

func ScriptRoutinesIncr() { scriptRoutines.Incr(1) }
func ScriptRoutinesDecr() { scriptRoutines.Incr(-1) }

func GetURLsFetched() int64 { return urlsFetched.Value() }
func GetURLsFailed() int64  { return urlsFailed.Value() }
func GetBytesStored() int64 { return bytesStored.Value() }
func GetURIPerSecond() int64 { return urlsPerSecond.Rate() }
func GetFetcherRoutines() int64 { return fetcherRoutines.Value() }
func GetScriptRoutines() int64  { return scriptRoutines.Value() }

// Snapshot is the JSON-serializable view exposed by opsapi's /metrics-adjacent
// status endpoint and by GetJSON.
type Snapshot struct {
	URLsFetched     int64 `json:"urls_fetched"`
	URLsFailed      int64 `json:"urls_failed"`
	BytesStored     int64 `json:"bytes_stored"`
	URIPerSecond    int64 `json:"uri_per_second"`
	FetcherRoutines int64 `json:"fetcher_routines"`
	ScriptRoutines  int64 `json:"script_routines"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

func GetSnapshot() Snapshot {
	return Snapshot{
		URLsFetched:     GetURLsFetched(),
		URLsFailed:      GetURLsFailed(),
		BytesStored:     GetBytesStored(),
		URIPerSecond:    GetURIPerSecond(),
		FetcherRoutines: GetFetcherRoutines(),
		ScriptRoutines:  GetScriptRoutines(),
		ElapsedSeconds:  time.Since(startTime).Seconds(),
	}
}

// GetJSON marshals the current snapshot, for a status endpoint handler.
func GetJSON() ([]byte, error) {
	return json.Marshal(GetSnapshot())
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

// PrintLive renders the live stats table once a second until stop is closed,
// in the same shape as the crawl package's printLiveStats loop.
func PrintLive(job string, stop <-chan struct{}) {
	var m runtime.MemStats

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			runtime.ReadMemStats(&m)

			snap := GetSnapshot()

			table := uitable.New()
			table.MaxColWidth = 80
			table.Wrap = true

			table.AddRow("", "")
			table.AddRow("  - Job:", job)
			table.AddRow("  - Fetcher workers:", strconv.FormatInt(snap.FetcherRoutines, 10))
			table.AddRow("  - Script workers:", strconv.FormatInt(snap.ScriptRoutines, 10))
			table.AddRow("  - URI/s:", snap.URIPerSecond)
			table.AddRow("  - URLs fetched:", snap.URLsFetched)
			table.AddRow("  - URLs failed:", snap.URLsFailed)
			table.AddRow("  - Data stored:", humanize.Bytes(uint64(snap.BytesStored)))
			table.AddRow("", "")
			table.AddRow("  - Elapsed time:", time.Since(startTime).String())
			table.AddRow("  - Allocated (heap):", bToMb(m.Alloc))
			table.AddRow("  - Goroutines:", runtime.NumGoroutine())
			table.AddRow("", "")

			fmt.Fprintln(writer, table.String())
			writer.Flush()
		}
	}
}
