// Command aedat-encode encodes the polarity events of an AEDAT 3.1
// recording as one sparse batch.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/eventcam/internal/aedat"
	"github.com/banshee-data/eventcam/internal/monitoring"
	"github.com/banshee-data/eventcam/internal/sparse"
	"github.com/banshee-data/eventcam/internal/store"
)

// Options holds the command line settings.
type Options struct {
	In     string
	Out    string
	Plot   string
	DBPath string
	Source string
	Width  int
	Height int
}

func main() {
	var opts Options
	flag.StringVar(&opts.In, "in", "", "AEDAT 3.1 recording to encode (required)")
	flag.StringVar(&opts.Out, "out", "", "Write the batch in wire form to this file")
	flag.StringVar(&opts.Plot, "plot", "", "Write an x/y scatter plot of the events to this image")
	flag.StringVar(&opts.DBPath, "db", "", "Store the batch in this SQLite database")
	flag.StringVar(&opts.Source, "source", "", "Source label stored with the batch (default: input file name)")
	flag.IntVar(&opts.Width, "width", 0, "Sensor width for the plot axes (0 = automatic)")
	flag.IntVar(&opts.Height, "height", 0, "Sensor height for the plot axes (0 = automatic)")
	flag.Parse()

	if opts.In == "" {
		flag.Usage()
		os.Exit(2)
	}
	summary, err := encode(context.Background(), opts)
	if err != nil {
		log.Fatalf("aedat-encode: %v", err)
	}
	fmt.Println(summary)
}

// encode loads opts.In and writes every requested output. It returns a one
// line summary.
func encode(ctx context.Context, opts Options) (string, error) {
	rec, err := aedat.Load(opts.In)
	if err != nil {
		return "", err
	}
	b := sparse.Encode(rec.Polarity)
	summary := fmt.Sprintf("%s: %d polarity events, %d spike, %d imu6, %d imu9",
		opts.In, b.Len(), len(rec.Spike), len(rec.IMU6), len(rec.IMU9))
	if first, last, ok := b.TimeRange(); ok {
		summary += fmt.Sprintf(", t=[%d, %d]", first, last)
	}

	if opts.Out != "" {
		if err := writeBatch(opts.Out, b); err != nil {
			return "", err
		}
	}

	if opts.Plot != "" {
		ep := monitoring.EventPlot{Title: filepath.Base(opts.In), Width: opts.Width, Height: opts.Height}
		if err := ep.Save(opts.Plot, rec.Polarity); err != nil {
			return "", err
		}
	}

	if opts.DBPath != "" {
		st, err := store.Open(opts.DBPath)
		if err != nil {
			return "", err
		}
		defer st.Close()
		source := opts.Source
		if source == "" {
			source = filepath.Base(opts.In)
		}
		id, err := st.Save(ctx, b, source)
		if err != nil {
			return "", err
		}
		summary += fmt.Sprintf(", stored as %s", id)
	}
	return summary, nil
}

func writeBatch(path string, b *sparse.Batch) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := b.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
