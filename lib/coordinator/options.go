package coordinator

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultWaitThreshold is how long an acquirer polls before it registers as a waiter,
	// triggers analysis and starts yielding
	DefaultWaitThreshold = time.Second
	// DefaultReportInterval is the minimum time between two dispatched reports
	DefaultReportInterval = time.Second
)

// Options configures a Coordinator
type Options struct {
	// WaitThreshold is the per-attempt time after which Lock switches to the diagnostic slow path
	WaitThreshold time.Duration
	// ReportInterval rate limits report dispatch. Zero means the default, a negative
	// interval dispatches every non-empty report.
	ReportInterval time.Duration
	// Sinks receive the dispatched reports
	Sinks []Sink
}

// DefaultOptions returns the default options: one second threshold and interval,
// reports are written to the coordinator logger
func DefaultOptions() Options {
	return Options{
		WaitThreshold:  DefaultWaitThreshold,
		ReportInterval: DefaultReportInterval,
		Sinks:          []Sink{NewLogSink(Logger)},
	}
}

// String returns a formatted representation of the options
func (o Options) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Coordinator")
	addField("Wait Threshold", o.WaitThreshold.String())
	addField("Report Interval", o.ReportInterval.String())
	addField("Sinks", fmt.Sprintf("%d", len(o.Sinks)))

	return sb.String()
}
