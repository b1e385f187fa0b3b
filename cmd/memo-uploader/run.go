package main

import (
	"bufio"
	"context"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-xiv/memo-uploader/pkg/memo"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
	"github.com/open-xiv/memo-uploader/pkg/telemetry"
	"github.com/open-xiv/memo-uploader/pkg/telemetry/sentry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxLineBytes = 1 << 20

type runFlags struct {
	endpoints []string
	dutyDir   string
	http      string
	noHTTP    bool
	noUpload  bool
	stdin     bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine until interrupted",
		Long: "Run the engine with settings from MEMO_* environment variables, overridden by flags. " +
			"Events are posted over HTTP, or read as newline-delimited JSON from stdin with --stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, flags, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringSliceVar(&flags.endpoints, "endpoint", nil, "fight record service base URL (repeatable)")
	cmd.Flags().StringVar(&flags.dutyDir, "duty-dir", "", "directory of <zone>.json duty documents")
	cmd.Flags().StringVar(&flags.http, "http", "", "address of the diagnostic HTTP server")
	cmd.Flags().BoolVar(&flags.noHTTP, "no-http", false, "do not start the HTTP server")
	cmd.Flags().BoolVar(&flags.noUpload, "no-upload", false, "track progress without uploading records")
	cmd.Flags().BoolVar(&flags.stdin, "stdin", false, "read events from stdin and exit at EOF")
	return cmd
}

func run(ctx context.Context, flags runFlags, stdin io.Reader) error {
	tel, err := telemetry.New(telemetry.Options{
		ServiceName:    "memo-uploader",
		ServiceVersion: version,
	})
	if err != nil {
		return eris.Wrap(err, "failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			tel.Logger.Error().Err(err).Msg("telemetry shutdown error")
		}
	}()
	defer sentry.Recover("cli", true)

	engine, err := memo.New(memo.Options{
		Endpoints:     flags.endpoints,
		DutyDir:       flags.dutyDir,
		HTTPAddress:   flags.http,
		DisableUpload: flags.noUpload,
		ClientVersion: version,
		Telemetry:     &tel,
	})
	if err != nil {
		return eris.Wrap(err, "failed to create engine")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The server and the stdin reader follow the engine down.
		defer cancel()
		return engine.Run(gctx)
	})
	if !flags.noHTTP {
		g.Go(func() error {
			return engine.Serve(gctx)
		})
	}
	if flags.stdin {
		// A blocked read on a terminal only returns once stdin is closed.
		if closer, ok := stdin.(io.Closer); ok {
			stopClosing := context.AfterFunc(gctx, func() { _ = closer.Close() })
			defer stopClosing()
		}
		log := tel.GetLogger("stdin")
		g.Go(func() error {
			if err := readEvents(gctx, stdin, engine, log); err != nil {
				return err
			}
			drain(gctx, engine, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sentry.CaptureException(ctx, err, map[string]string{"command": "run"})
		return err
	}
	tel.Logger.Info().Msg("memo-uploader stopped")
	return nil
}

// readEvents posts every line of r to the engine. Malformed lines are logged and skipped.
func readEvents(ctx context.Context, r io.Reader, engine *memo.Engine, log zerolog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return nil
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		events, err := event.Decode(scanner.Bytes())
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed event")
			continue
		}
		for _, e := range events {
			if !engine.PostEvent(e) {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return eris.Wrap(err, "failed to read events")
	}
	log.Info().Int("lines", line).Msg("end of input")
	return nil
}

// drain waits for the engine to process everything read, then stops it so that in-flight uploads
// get the grace period instead of the queue being dropped.
func drain(ctx context.Context, engine *memo.Engine, log zerolog.Logger) {
	if err := engine.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("input was not fully processed")
	}
	engine.Stop()
}
