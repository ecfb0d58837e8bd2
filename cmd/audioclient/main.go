// Command audioclient captures speech from a file or the microphone, streams
// it through the relay and prints the transcript as message blocks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"transcription-relay/internal/capture"
	"transcription-relay/internal/capture/mic"
	"transcription-relay/internal/observability/logging"
	"transcription-relay/internal/session"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "Relay WebSocket URL")
	file := flag.String("file", "", "WAV or FLAC file to stream instead of the microphone")
	device := flag.String("device", "", "Microphone device ID (see -list-devices)")
	listDevices := flag.Bool("list-devices", false, "List input devices and exit")
	archive := flag.String("archive", "", "Also write the streamed audio to this FLAC file")
	realtime := flag.Bool("realtime", true, "Pace file playback at real time")
	silence := flag.Duration("silence", 10*time.Second, "Silence that ends a message block")
	linger := flag.Duration("linger", 3*time.Second, "Time to wait for final transcripts after a file ends")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Format: "console", Output: os.Stderr})

	if *listDevices {
		devices, err := mic.Devices()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list devices")
		}
		for _, d := range devices {
			fmt.Printf("%s\t%s\n", d.ID, d.Name)
		}
		return
	}

	var src capture.Source
	if *file != "" {
		fs, err := capture.OpenFile(*file)
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("Failed to open audio file")
		}
		fs.Realtime = *realtime
		src = fs
	} else {
		src = mic.New(mic.Config{SampleRate: capture.DefaultConfig().SampleRate, Device: *device})
	}

	out := newRenderer(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))

	cfg := session.DefaultConfig(*url)
	cfg.SilenceThreshold = *silence
	cfg.OnChange = out.Render
	machine := session.NewMachine(cfg, session.NewWebSocketDialer(64), nil)

	engineCfg := capture.DefaultConfig()
	var sink capture.Sink = machine
	var flacArchive *capture.FLACArchive
	var archiveFile *os.File
	if *archive != "" {
		f, err := os.Create(*archive)
		if err != nil {
			log.Fatal().Err(err).Str("path", *archive).Msg("Failed to create archive")
		}
		flacArchive, err = capture.NewFLACArchive(f, engineCfg.SampleRate)
		if err != nil {
			f.Close()
			log.Fatal().Err(err).Msg("Failed to start FLAC archive")
		}
		archiveFile = f
		sink = capture.MultiSink{machine, flacArchive}
	}

	engine := capture.NewEngine(engineCfg, sink)
	recorder := session.NewRecorder(src, engine, machine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := recorder.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording")
	}

	select {
	case <-ctx.Done():
	case <-recorder.Done():
		if *file != "" {
			select {
			case <-ctx.Done():
			case <-time.After(*linger):
			}
		}
	}

	var errs []error
	errs = append(errs, recorder.Stop())
	if flacArchive != nil {
		errs = append(errs, flacArchive.Close())
		// The encoder may already have closed the file.
		if err := archiveFile.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	out.Finish(machine.Snapshot())

	stats := engine.Stats()
	log.Info().
		Int("frames", stats.Frames).
		Int("speechFrames", stats.SpeechFrames).
		Msg("Capture finished")

	if err := errors.Join(errs...); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Recording ended with errors")
		os.Exit(1)
	}
}
