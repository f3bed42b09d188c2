// Package main runs a media gateway client: it dials the voice server over
// UDP, listens for encoder RTP on a local port and forwards it encrypted.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/mediagate"
	"github.com/opd-ai/mediagate/av"
	"github.com/opd-ai/mediagate/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CLIConfig holds the session material that only the command line supplies.
type CLIConfig struct {
	secret string
	audio  bool
	help   bool
}

// parseCLIFlags layers command-line flags over options.
func parseCLIFlags(fs *flag.FlagSet, args []string, options *mediagate.Options) (*CLIConfig, error) {
	config := &CLIConfig{secret: os.Getenv("MEDIAGATE_SECRET")}
	var silence string

	// Session
	fs.StringVar(&options.ServerAddr, "server", options.ServerAddr, "Voice server UDP address (host:port)")
	fs.StringVar(&options.LocalAddr, "local", options.LocalAddr, "Local UDP address to send from")
	fs.StringVar(&config.secret, "secret", config.secret, "Hex-encoded 32-byte session secret")
	fs.StringVar(&options.EncryptionMode, "mode", options.EncryptionMode, "Encryption mode wire name")
	uintFlag(fs, &options.AudioSSRC, "audio-ssrc", "SSRC assigned to outbound audio")
	uintFlag(fs, &options.VideoSSRC, "video-ssrc", "SSRC assigned to outbound video")

	// Media
	fs.StringVar(&options.VideoCodec, "codec", options.VideoCodec, "Video codec (H264, VP8, VP9)")
	fs.IntVar(&options.MTU, "mtu", options.MTU, "Maximum RTP payload size for NAL fragmentation")
	fs.DurationVar(&options.KeyframeResendInterval, "keyframe-interval", options.KeyframeResendInterval, "Minimum time between keyframe resends")
	fs.DurationVar(&options.SpeakingDelay, "speaking-delay", options.SpeakingDelay, "Quiet time before a participant stops speaking")
	fs.StringVar(&silence, "silence", "", "Silence frame filtering: video, all or none")
	fs.BoolVar(&config.audio, "audio", true, "Forward encoder audio (payload type 97)")

	// Ingest
	fs.StringVar(&options.IngestHost, "ingest-host", options.IngestHost, "Host the encoder RTP listener binds to")
	fs.IntVar(&options.IngestFirstPort, "ingest-first-port", options.IngestFirstPort, "First port tried for the encoder RTP listener")
	fs.IntVar(&options.IngestLastPort, "ingest-last-port", options.IngestLastPort, "Last port tried for the encoder RTP listener")

	// Observability
	fs.StringVar(&options.MetricsAddr, "metrics", options.MetricsAddr, "Address for the /metrics endpoint, empty to disable")
	fs.StringVar(&options.LogLevel, "log-level", options.LogLevel, "Log level (debug, info, warn, error)")

	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if silence != "" {
		policy, err := mediagate.ParseSilencePolicy(silence)
		if err != nil {
			return nil, err
		}
		options.SilencePolicy = policy
	}
	return config, nil
}

func uintFlag(fs *flag.FlagSet, target *uint32, name, usage string) {
	fs.Func(name, fmt.Sprintf("%s (default %d)", usage, *target), func(value string) error {
		var v uint64
		if _, err := fmt.Sscan(value, &v); err != nil || v > 0xffffffff {
			return fmt.Errorf("invalid SSRC %q", value)
		}
		*target = uint32(v)
		return nil
	})
}

// validateCLIConfig checks the flags Options.Validate does not cover.
func validateCLIConfig(config *CLIConfig, options *mediagate.Options) ([]byte, error) {
	if options.ServerAddr == "" {
		return nil, errors.New("server address cannot be empty")
	}
	secret, err := hex.DecodeString(config.secret)
	if err != nil {
		return nil, fmt.Errorf("secret is not valid hex: %w", err)
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return secret, nil
}

// setupSignalHandling cancels ctx on SIGINT or SIGTERM.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Info("Shutting down")
		cancel()
	}()
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logrus.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("Metrics server failed")
		}
	}()
}

func run(ctx context.Context, options *mediagate.Options, secret []byte, withAudio bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := av.NewMetrics(reg)
	if options.MetricsAddr != "" {
		serveMetrics(ctx, options.MetricsAddr, reg)
	}

	udp, err := transport.DialUDP(options.LocalAddr, options.ServerAddr)
	if err != nil {
		return err
	}
	defer udp.Close()

	conn, err := mediagate.NewConnection(options, mediagate.ConnectionConfig{
		Secret:  secret,
		Sender:  udp,
		Metrics: metrics,
		Callbacks: av.HandlerCallbacks{
			OnSpeaking: func(ev av.SpeakingEvent) {
				logrus.WithFields(logrus.Fields{
					"participant": ev.ParticipantID,
					"ssrc":        ev.SSRC,
					"speaking":    ev.Speaking(),
				}).Info("Speaking update")
			},
			OnError: func(participantID string, err error) {
				logrus.WithField("participant", participantID).WithError(err).Warn("Inbound stream failed")
			},
		},
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	udp.SetHandler(conn.HandleDatagram)
	udp.Start()

	video, err := conn.PlayVideo(dispatcherCallbacks("video"))
	if err != nil {
		return err
	}
	var audio av.RTPWriter
	if withAudio {
		d, err := conn.PlayAudio(dispatcherCallbacks("audio"))
		if err != nil {
			return err
		}
		audio = d
	}

	listener, port, err := transport.ListenFirstAvailable(options.IngestHost, options.IngestFirstPort, options.IngestLastPort)
	if err != nil {
		return err
	}
	ingest := av.NewIngest(listener, video, audio)
	defer ingest.Close()

	logrus.WithFields(logrus.Fields{
		"server": options.ServerAddr,
		"ingest": fmt.Sprintf("rtp://%s:%d", options.IngestHost, port),
		"codec":  options.VideoCodec,
	}).Info("Ready for encoder RTP")

	if err := ingest.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func dispatcherCallbacks(kind string) av.DispatcherCallbacks {
	log := logrus.WithField("kind", kind)
	return av.DispatcherCallbacks{
		OnStart:  func(at time.Time) { log.WithField("at", at).Info("Stream started") },
		OnFinish: func(d time.Duration) { log.WithField("duration", d).Info("Stream finished") },
		OnDebug:  func(msg string) { log.Debug(msg) },
		OnError:  func(err error) { log.WithError(err).Error("Dispatcher failed") },
		OnReceiverReport: func(ev av.ReceiverReportEvent) {
			for _, r := range ev.Reports {
				log.WithFields(logrus.Fields{
					"ssrc":          r.SSRC,
					"fraction_lost": r.FractionLost,
					"jitter":        r.Jitter,
				}).Debug("Receiver report")
			}
		},
	}
}

func main() {
	options := mediagate.LoadOptionsFromEnv()
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cliConfig, err := parseCLIFlags(fs, os.Args[1:], options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if cliConfig.help {
		fs.PrintDefaults()
		os.Exit(0)
	}

	secret, err := validateCLIConfig(cliConfig, options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}
	if err := options.ConfigureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := run(ctx, options, secret, cliConfig.audio); err != nil {
		logrus.WithError(err).Error("mediagate stopped")
		os.Exit(1)
	}
}
