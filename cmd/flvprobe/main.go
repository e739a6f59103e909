package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zioncity/flvsource/host"
	"github.com/zioncity/flvsource/media"
	"github.com/zioncity/flvsource/source"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	startSec := flag.Float64("start", -1, "start position in seconds (negative = from the beginning)")
	maxSamples := flag.Int("max", envIntOr("FLVPROBE_MAX_SAMPLES", 0), "stop after this many samples per stream (0 = all)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: flvprobe [-start sec] [-max n] <file.flv>\n")
		os.Exit(2)
	}
	path := flag.Arg(0)

	pool, err := host.NewPool(envIntOr("FLVPROBE_WORKERS", 4))
	if err != nil {
		slog.Error("failed to create dispatcher pool", "error", err)
		os.Exit(1)
	}
	defer pool.Release()

	bs, err := host.OpenFile(path, pool)
	if err != nil {
		slog.Error("failed to open file", "path", path, "error", err)
		os.Exit(1)
	}
	defer bs.Close()

	slog.Info("flvprobe starting", "version", version, "file", path)

	src := source.New(pool)
	opened := make(chan error, 1)
	if err := src.BeginOpen(bs, func(err error) { opened <- err }); err != nil {
		slog.Error("open failed", "error", err)
		os.Exit(1)
	}
	if err := <-opened; err != nil {
		slog.Error("open scan failed", "error", err)
		os.Exit(1)
	}

	pd, err := src.CreatePresentationDescriptor()
	if err != nil {
		slog.Error("no presentation description", "error", err)
		os.Exit(1)
	}
	printPresentation(pd)

	var startPos *int64
	if *startSec >= 0 {
		v := int64(*startSec * 1e7)
		startPos = &v
	}
	if err := src.Start(pd, startPos); err != nil {
		slog.Error("start failed", "error", err)
		os.Exit(1)
	}

	var g errgroup.Group
	g.Go(func() error { return drainSource(src) })
	for _, sd := range pd.Streams {
		st := src.Stream(sd.ID)
		if st == nil {
			continue
		}
		g.Go(func() error { return drainStream(st, *maxSamples) })
	}
	if err := g.Wait(); err != nil {
		slog.Error("probe failed", "error", err)
		os.Exit(1)
	}
	src.Shutdown()
}

func printPresentation(pd *media.PresentationDescription) {
	fmt.Printf("duration: %.3fs  filesize: %d bytes  streams: %d\n",
		float64(pd.Duration)/1e7, pd.FileSize, len(pd.Streams))
	for _, sd := range pd.Streams {
		mt := sd.MediaType
		switch mt.Major {
		case media.MajorVideo:
			fmt.Printf("  stream %d: H.264 %dx%d @%d/%d fps, profile %d level %d, nal length %d, %d bps\n",
				sd.ID, mt.Width, mt.Height, mt.FrameRate.Num, mt.FrameRate.Den,
				mt.Profile, mt.Level, mt.NALLengthSize, mt.AvgBitrate)
		case media.MajorAudio:
			name := "MP3"
			if mt.Subtype == media.SubtypeRawAAC {
				name = "AAC"
			}
			fmt.Printf("  stream %d: %s %d Hz, %d ch, %d bit, %d bps\n",
				sd.ID, name, mt.SamplesPerSecond, mt.Channels, mt.BitsPerSample, mt.AvgBitrate)
		}
	}
}

// drainSource consumes source events until the presentation ends or the
// source reports an error.
func drainSource(src *source.Source) error {
	for {
		ev, err := src.Events().Next()
		if err != nil {
			return nil
		}
		slog.Debug("source event", "type", ev.Type.String(), "time", ev.Time)
		switch ev.Type {
		case media.EventEndOfPresentation:
			slog.Info("end of presentation")
			return nil
		case media.EventSourceError:
			// Shutting down unblocks the per-stream drains.
			src.Shutdown()
			return fmt.Errorf("source error: %w", ev.Status)
		}
	}
}

// drainStream pulls samples one at a time: each delivered sample triggers
// the next request, keeping exactly one request outstanding.
func drainStream(st *source.Stream, maxSamples int) error {
	id := st.Descriptor().ID
	// The start operation completes asynchronously; wait for the stream to
	// begin accepting requests.
	for {
		err := st.RequestSample(0)
		if err == nil {
			break
		}
		if !errors.Is(err, media.ErrNotAccepting) {
			return fmt.Errorf("stream %d: %w", id, err)
		}
		time.Sleep(time.Millisecond)
	}
	count := 0
	for {
		ev, err := st.Events().Next()
		if err != nil {
			return nil
		}
		switch ev.Type {
		case media.EventSample:
			count++
			var size int
			for _, b := range ev.Sample.Buffers {
				size += len(b)
			}
			fmt.Printf("stream %d  sample %-5d t=%.3fs  key=%-5v buffers=%d  %d bytes\n",
				id, count, float64(ev.Sample.Time)/1e7, ev.Sample.KeyFrame,
				len(ev.Sample.Buffers), size)
			if maxSamples > 0 && count >= maxSamples {
				slog.Info("sample limit reached", "stream", id, "samples", count)
				return nil
			}
			if err := st.RequestSample(count); err != nil {
				if errors.Is(err, media.ErrEndOfStream) || errors.Is(err, media.ErrShutdown) {
					continue
				}
				return fmt.Errorf("stream %d: %w", id, err)
			}
		case media.EventEndOfStream:
			slog.Info("end of stream", "stream", id, "samples", count)
			return nil
		}
	}
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
