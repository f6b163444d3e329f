package ingest

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"

	"goshawk/util"
)

// Progress receives file enumeration and per-file scan notifications.
type Progress interface {
	// Begin reports the file count and cumulative byte size before
	// scanning starts.
	Begin(files int, totalBytes int64)
	// File reports the file about to be scanned.
	File(path string, size int64)
	// End reports scan completion.
	End()
}

// NopProgress discards all notifications. Used for file-sink runs and
// tests.
type NopProgress struct{}

func (NopProgress) Begin(int, int64)   {}
func (NopProgress) File(string, int64) {}
func (NopProgress) End()               {}

// SpinnerProgress renders scan progress on the terminal.
type SpinnerProgress struct {
	spin    *spinner.Spinner
	scanned int
	total   int
}

// NewSpinnerProgress returns console progress reporting.
func NewSpinnerProgress() *SpinnerProgress {
	return &SpinnerProgress{
		spin: spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr)),
	}
}

func (p *SpinnerProgress) Begin(files int, totalBytes int64) {
	p.total = files
	fmt.Printf("Total log files: %d\n", files)
	fmt.Printf("Total file size: %s\n\n", util.HumanBytes(totalBytes))
	fmt.Println("Scanning now. Please wait.")
	p.spin.Start()
}

func (p *SpinnerProgress) File(path string, size int64) {
	p.scanned++
	p.spin.Suffix = fmt.Sprintf(" %d/%d %s (%s)", p.scanned, p.total, path, util.HumanBytes(size))
}

func (p *SpinnerProgress) End() {
	p.spin.Stop()
	fmt.Println("Scanning finished.")
	fmt.Println()
}
