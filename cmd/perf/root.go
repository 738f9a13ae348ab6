package perf

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/rawnet/cmd/util"
	"github.com/ValentinKolb/rawnet/lib/frame"
	"github.com/ValentinKolb/rawnet/transport/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rawnet readers",
		Long:    `Run request/response load tests against a running rawnet reader (see serve). Every thread uses its own writer.`,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfConfig     common.Config
	perfNumThreads = 10
	perfRequests   = 10000
	perfSmallSize  = 16
	perfSkip       = make([]string, 0)
)

// percentiles reported for every test
var percentiles = []float64{0.5, 0.9, 0.99, 0.999}

// Result holds the measurements of one test
type Result struct {
	Test     string
	Skipped  bool
	Payload  int
	Errors   int64
	Duration time.Duration
	Timer    gometrics.Timer
}

func init() {
	util.SetupTransportFlags(PerfCmd, "localhost:9000")

	key := "skip"
	PerfCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. small,typed)"))
	key = "threads"
	PerfCmd.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "requests"
	PerfCmd.PersistentFlags().Int(key, 10000, util.WrapString("Number of requests per thread and test"))
	key = "small-size"
	PerfCmd.PersistentFlags().Int(key, 16, util.WrapString("Payload size of the small test in bytes"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetConfig()
	if err != nil {
		return err
	}
	perfConfig = conf

	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfRequests = max(viper.GetInt("requests"), 1)
	perfSmallSize = max(viper.GetInt("small-size"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for rawnet readers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(perfConfig.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Requests: %d per thread\n", perfRequests)
	fmt.Println()

	fmt.Println("starting tests...")

	small := make([]byte, min(perfSmallSize, perfConfig.PacketSize))
	full := make([]byte, perfConfig.PacketSize)
	for i := range full {
		full[i] = byte('a' + i%26)
	}
	copy(small, full)

	typed, err := util.EncodePacket(1, small[:min(len(small), max(perfConfig.PacketSize-frame.PacketHeaderSize, 0))])
	if err != nil {
		return err
	}

	results := []Result{
		benchmark("small", small),
		benchmark("full", full),
		benchmark("typed", typed),
	}

	for _, result := range results {
		printResult(result)
	}

	// Export the results if a csv path was given
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmark
// --------------------------------------------------------------------------

// benchmark sends payload perfRequests times from every thread and records the round trip times
func benchmark(test string, payload []byte) Result {
	result := Result{Test: test, Payload: len(payload)}
	if shouldSkip(test) {
		result.Skipped = true
		return result
	}

	timer := gometrics.NewTimer()
	errorsMeter := gometrics.NewMeter()
	defer errorsMeter.Stop()

	var wg sync.WaitGroup
	start := time.Now()
	for t := 0; t < perfNumThreads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			client, err := util.NewClient(perfConfig)
			if err != nil {
				log.Printf("(%s) - error creating client: %v\n", test, err)
				errorsMeter.Mark(int64(perfRequests))
				return
			}
			defer client.Close()

			response := make([]byte, max(perfConfig.PacketSize, len(payload)))
			for i := 0; i < perfRequests; i++ {
				begin := time.Now()
				if _, err := client.Roundtrip(payload, response); err != nil {
					errorsMeter.Mark(1)
					log.Printf("(%s) - error in round trip: %v\n", test, err)
					continue
				}
				timer.UpdateSince(begin)
			}
		}()
	}
	wg.Wait()

	result.Duration = time.Since(start)
	result.Errors = errorsMeter.Count()
	result.Timer = timer.Snapshot()
	timer.Stop()
	return result
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// opsPerSec returns the achieved throughput of a result
func opsPerSec(r Result) float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Timer.Count()) / r.Duration.Seconds()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(r Result) {
	if r.Skipped {
		fmt.Printf("%-10sskipped\n", r.Test)
		return
	}

	ps := r.Timer.Percentiles(percentiles)
	fmt.Printf("%-10s%6d B  %.0f ops/sec  mean %s  p50 %s  p90 %s  p99 %s  p99.9 %s  max %s  errors %d\n",
		r.Test, r.Payload, opsPerSec(r),
		time.Duration(r.Timer.Mean()),
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]), time.Duration(ps[3]),
		time.Duration(r.Timer.Max()),
		r.Errors,
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []Result) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Skipped", "PayloadBytes", "Requests", "Errors", "OpsPerSec",
		"MeanNs", "P50Ns", "P90Ns", "P99Ns", "P999Ns", "MaxNs",
		"Network", "Endpoint", "PacketSize", "Framing", "Threads",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		row := []string{r.Test, strconv.FormatBool(r.Skipped), strconv.Itoa(r.Payload)}
		if r.Skipped {
			row = append(row, "0", "0", "0", "0", "0", "0", "0", "0", "0")
		} else {
			ps := r.Timer.Percentiles(percentiles)
			row = append(row,
				strconv.FormatInt(r.Timer.Count(), 10),
				strconv.FormatInt(r.Errors, 10),
				fmt.Sprintf("%.0f", opsPerSec(r)),
				fmt.Sprintf("%.0f", r.Timer.Mean()),
				fmt.Sprintf("%.0f", ps[0]),
				fmt.Sprintf("%.0f", ps[1]),
				fmt.Sprintf("%.0f", ps[2]),
				fmt.Sprintf("%.0f", ps[3]),
				strconv.FormatInt(r.Timer.Max(), 10),
			)
		}
		row = append(row,
			perfConfig.Network,
			perfConfig.Endpoint,
			strconv.Itoa(perfConfig.PacketSize),
			string(perfConfig.Framing),
			strconv.Itoa(perfNumThreads),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.Test, err)
		}
	}

	return nil
}
