package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/voice-tutor/internal/auth"
	"github.com/suPer8Hu/voice-tutor/internal/logging"
	"github.com/suPer8Hu/voice-tutor/internal/voice"
)

type probeOptions struct {
	server   string
	email    string
	password string
	wsURL    string
	model    string
	apiPing  string
	length   time.Duration
	every    time.Duration
	debug    bool
}

// voiceprobe runs one headless voice call against a running server. It
// checks the login, token, realtime and bookkeeping paths end to end.
func newRootCommand() *cobra.Command {
	opts := probeOptions{}
	cmd := &cobra.Command{
		Use:           "voiceprobe",
		Short:         "Run a headless voice call against a voice-tutor server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProbe(cmd.Context(), cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:3000", "voice-tutor base URL")
	f.StringVar(&opts.email, "email", auth.DemoEmail, "login email")
	f.StringVar(&opts.password, "password", auth.DemoPassword, "login password")
	f.StringVar(&opts.wsURL, "ws-url", "", "realtime websocket URL")
	f.StringVar(&opts.model, "model", "gpt-4o-realtime-preview-2025-06-03", "realtime model")
	f.StringVar(&opts.apiPing, "api-ping", "https://api.openai.com/v1/models", "upstream latency target")
	f.DurationVar(&opts.length, "duration", 0, "stop the call after this long (0 waits for ctrl-c or the inactivity timeout)")
	f.DurationVar(&opts.every, "status-every", voice.SampleInterval, "status print interval")
	f.BoolVar(&opts.debug, "debug", false, "debug logging")
	return cmd
}

func runProbe(ctx context.Context, cmd *cobra.Command, opts probeOptions) error {
	logger := logging.New(opts.debug)
	base := strings.TrimRight(opts.server, "/")

	token, err := voice.Login(ctx, &http.Client{Timeout: 10 * time.Second}, base, opts.email, opts.password)
	if err != nil {
		return err
	}

	coord := voice.NewCoordinator(
		virtualMic{},
		voice.NewBridgeClient(base, token),
		voice.NewWSDialer(opts.wsURL, opts.model, logger),
		voice.NewHTTPBackend(base, token),
		voice.NewHTTPPinger(),
		voice.Options{
			UserAgent:     "voiceprobe",
			BackendTarget: base + "/ping",
			APITarget:     opts.apiPing,
			Logger:        logger,
		},
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go coord.Run(runCtx)

	coord.SampleBaseline()
	if err := coord.Start(ctx); err != nil {
		printSnapshot(cmd, coord.Snapshot())
		return fmt.Errorf("start call: %w", err)
	}

	var deadline <-chan time.Time
	if opts.length > 0 {
		deadline = time.After(opts.length)
	}
	every := opts.every
	if every <= 0 {
		every = voice.SampleInterval
	}
	status := time.NewTicker(every)
	defer status.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			coord.Stop(voice.ReasonUser)
			break loop
		case <-deadline:
			coord.Stop(voice.ReasonUser)
			break loop
		case <-status.C:
			snap := coord.Snapshot()
			printSnapshot(cmd, snap)
			if snap.State == voice.Idle {
				break loop
			}
		}
	}

	printSnapshot(cmd, coord.Snapshot())
	flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer flushCancel()
	coord.FlushLogs(flushCtx)
	return nil
}

func printSnapshot(cmd *cobra.Command, s voice.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state=%s duration=%ds transport=%s backend=%s api=%s\n",
		s.State, s.DurationSec, ms(s.TransportLatency), ms(s.BackendLatency), ms(s.APILatency))
	if s.Advisory != voice.AdvisoryNone {
		fmt.Fprintf(out, "advisory: %s\n", s.Advisory)
	}
}

func ms(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
