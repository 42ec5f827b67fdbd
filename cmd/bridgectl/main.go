// Package main is the entry point for bridgectl, a small harness for
// exercising the zenoh/GStreamer bridge core without a running
// pipeline: it can round-trip a buffer through a publisher and
// subscriber pair over an in-process transport (selftest), or drive a
// real MQTT broker from the command line (publish/subscribe).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zenoh-gst/bridge/internal/bridge"
	"github.com/zenoh-gst/bridge/internal/buildinfo"
	"github.com/zenoh-gst/bridge/internal/config"
	"github.com/zenoh-gst/bridge/internal/connwatch"
	"github.com/zenoh-gst/bridge/internal/framework"
	"github.com/zenoh-gst/bridge/internal/transport"
	"github.com/zenoh-gst/bridge/internal/transport/localsession"
	"github.com/zenoh-gst/bridge/internal/transport/mqttsession"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	level, err := config.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "selftest":
		if err := runSelftest(logger); err != nil {
			logger.Error("selftest failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("selftest: OK")
	case "publish":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl publish <broker-url> <key-expr> [message]")
			os.Exit(1)
		}
		message := "hello from bridgectl"
		if flag.NArg() >= 4 {
			message = flag.Arg(3)
		}
		if err := runPublish(logger, flag.Arg(1), flag.Arg(2), message); err != nil {
			logger.Error("publish failed", "error", err)
			os.Exit(1)
		}
	case "subscribe":
		if flag.NArg() < 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl subscribe <broker-url> <key-expr>")
			os.Exit(1)
		}
		if err := runSubscribe(logger, flag.Arg(1), flag.Arg(2)); err != nil {
			logger.Error("subscribe failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("bridgectl - zenoh/GStreamer bridge harness")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  selftest                               round-trip a buffer over an in-process transport")
	fmt.Println("  publish <broker> <key-expr> [message]  publish one message over MQTT")
	fmt.Println("  subscribe <broker> <key-expr>           print messages received over MQTT")
	fmt.Println("  version                                 print build information")
}

// runSelftest exercises the publisher and subscriber elements
// end-to-end over localsession, covering the round-trip testable
// property: caps arrive before the first buffer, PTS survives the
// wire, and the envelope is reversed correctly.
func runSelftest(logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	registry := bridge.NewRegistry()

	pubCfg := bridge.DefaultConfig()
	pubCfg.KeyExpr = "bridgectl/selftest"
	pubCfg.SendCaps = true
	pubCfg.SendBufferMeta = true
	pub := bridge.NewPublisher(pubCfg, registry, localsession.New, logger)

	subCfg := bridge.DefaultConfig()
	subCfg.KeyExpr = "bridgectl/selftest"
	subCfg.ApplyBufferMeta = true
	subCfg.ReceiveTimeoutMS = 1000
	sub := bridge.NewSubscriber(subCfg, registry, localsession.New, logger)

	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("publisher start: %w", err)
	}
	if err := sub.Start(ctx); err != nil {
		return fmt.Errorf("subscriber start: %w", err)
	}
	for _, el := range []func(context.Context) error{pub.Pause, pub.Play, sub.Pause, sub.Play} {
		if err := el(ctx); err != nil {
			return fmt.Errorf("lifecycle transition: %w", err)
		}
	}

	pub.SetCaps("application/x-bridgectl")
	buf := &framework.Buffer{Data: []byte("selftest payload")}
	buf.SetPTS(42 * time.Millisecond)
	if err := pub.Render(ctx, buf); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	sink := &collectingSink{}
	got, err := sub.Create(ctx, sink)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	if string(got.Data) != string(buf.Data) {
		return fmt.Errorf("payload mismatch: got %q, want %q", got.Data, buf.Data)
	}
	if !got.HasPTS() || got.PTS != buf.PTS {
		return fmt.Errorf("pts mismatch: got %v (has=%v), want %v", got.PTS, got.HasPTS(), buf.PTS)
	}
	if len(sink.caps) != 1 || sink.caps[0] != "application/x-bridgectl" {
		return fmt.Errorf("caps not observed before the buffer: %v", sink.caps)
	}

	_ = pub.Teardown(ctx)
	_ = sub.Teardown(ctx)
	return nil
}

type collectingSink struct{ caps []framework.Caps }

func (s *collectingSink) PushCaps(port string, caps framework.Caps) error {
	s.caps = append(s.caps, caps)
	return nil
}
func (s *collectingSink) PushStreamStart(port string) error                  { return nil }
func (s *collectingSink) PushSegment(port string) error                      { return nil }
func (s *collectingSink) PushBuffer(port string, buf *framework.Buffer) error { return nil }
func (s *collectingSink) AddPort(name string) error                          { return nil }

func runPublish(logger *slog.Logger, brokerURL, keyExpr, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	registry := bridge.NewRegistry()
	cfg := bridge.DefaultConfig()
	cfg.KeyExpr = keyExpr
	cfg.TransportConfig = brokerURL
	pub := bridge.NewPublisher(cfg, registry, mqttsession.Dial, logger)

	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := pub.Pause(ctx); err != nil {
		return err
	}
	if err := pub.Play(ctx); err != nil {
		return err
	}
	defer func() { _ = pub.Teardown(ctx) }()

	if err := pub.Render(ctx, &framework.Buffer{Data: []byte(message)}); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	logger.Info("published", "key_expr", keyExpr, "broker", brokerURL)
	return nil
}

func runSubscribe(logger *slog.Logger, brokerURL, keyExpr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := mqttsession.DialWithLogger(ctx, brokerURL, logger)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	mqttSess, _ := sess.(*mqttsession.Session)
	watchMgr := connwatch.NewManager(logger)
	defer watchMgr.Stop()
	if mqttSess != nil {
		mqttSess.Watch(ctx, watchMgr, "broker:"+brokerURL)
	}
	dial := func(context.Context, string) (transport.Session, error) { return sess, nil }

	registry := bridge.NewRegistry()
	cfg := bridge.DefaultConfig()
	cfg.KeyExpr = keyExpr
	cfg.TransportConfig = brokerURL
	cfg.ReceiveTimeoutMS = 1000
	sub := bridge.NewSubscriber(cfg, registry, dial, logger)

	if err := sub.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := sub.Pause(ctx); err != nil {
		return err
	}
	if err := sub.Play(ctx); err != nil {
		return err
	}
	defer func() { _ = sub.Teardown(ctx) }()

	for {
		buf, err := sub.Create(ctx, nil)
		switch {
		case ctx.Err() != nil:
			return nil
		case err == bridge.ErrTryAgain:
			continue
		case err != nil:
			logger.Warn("receive error", "error", err)
			continue
		default:
			fmt.Printf("%s: %s\n", keyExpr, buf.Data)
		}
	}
}
