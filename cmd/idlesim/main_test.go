package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/idle-engine/internal/baseline"
	"github.com/signalsfoundry/idle-engine/internal/bridge"
	"github.com/signalsfoundry/idle-engine/internal/config"
	"github.com/signalsfoundry/idle-engine/internal/logging"
	"github.com/signalsfoundry/idle-engine/internal/protocol"
	"github.com/signalsfoundry/idle-engine/internal/sim"
)

func shortVerify(dbPath string) verifyOptions {
	return verifyOptions{
		seed:     123,
		land:     "meadow",
		ward:     "meadow-1",
		duration: 5 * time.Second,
		step:     16670 * time.Microsecond,
		dbPath:   dbPath,
	}
}

func TestVerifyRecordThenCheck(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "baselines.db")

	opts := shortVerify(dbPath)
	opts.record = true
	var out bytes.Buffer
	if err := runVerify(ctx, &out, config.Defaults(), nil, logging.Noop(), opts); err != nil {
		t.Fatalf("runVerify(record) error = %v", err)
	}
	if !strings.Contains(out.String(), "baseline recorded") {
		t.Fatalf("runVerify(record) output = %q", out.String())
	}

	opts.record = false
	opts.check = true
	out.Reset()
	if err := runVerify(ctx, &out, config.Defaults(), nil, logging.Noop(), opts); err != nil {
		t.Fatalf("runVerify(check) error = %v", err)
	}
	if !strings.Contains(out.String(), "baseline matched") {
		t.Fatalf("runVerify(check) output = %q", out.String())
	}
}

func TestVerifyCheckDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "baselines.db")
	opts := shortVerify(dbPath)

	store, err := baseline.Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	err = store.Save(ctx, baseline.Baseline{
		Key: baseline.Key{
			Seed:     opts.seed,
			Build:    sim.Build,
			Land:     opts.land,
			Ward:     opts.ward,
			Duration: opts.duration,
			Step:     opts.step,
		},
		Snapshots: 4,
		Hash:      1,
	})
	store.Close()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	opts.check = true
	err = runVerify(ctx, &bytes.Buffer{}, config.Defaults(), nil, logging.Noop(), opts)
	if !errors.Is(err, baseline.ErrMismatch) {
		t.Fatalf("runVerify(check) error = %v, want ErrMismatch", err)
	}
}

func TestVerifyCheckWithoutBaseline(t *testing.T) {
	opts := shortVerify(filepath.Join(t.TempDir(), "empty.db"))
	opts.check = true
	err := runVerify(context.Background(), &bytes.Buffer{}, config.Defaults(), nil, logging.Noop(), opts)
	if !errors.Is(err, baseline.ErrNotFound) {
		t.Fatalf("runVerify(check) error = %v, want ErrNotFound", err)
	}
}

func TestVerifyRejectsRecordAndCheck(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"verify", "--record", "--check", "--duration", "1s"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("Execute(verify --record --check) error = nil, want error")
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute(version) error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != sim.Build {
		t.Fatalf("version output = %q, want %q", got, sim.Build)
	}
}

func TestServeStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Defaults()
	cfg.Metrics.Enabled = false

	serveCtx, stopServe := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(serveCtx, cfg, nil, logging.Noop(), lis, prometheus.NewRegistry())
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	stream, err := bridge.NewHostBridgeClient(conn).Connect(ctx)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	env, err := protocol.Wrap(protocol.Boot{Seed: 5, Build: sim.Build})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if err := stream.Send(&env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if reply.Kind != protocol.KindReady {
		t.Fatalf("first reply kind = %q, want %q", reply.Kind, protocol.KindReady)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	stopServe()
	if err := <-errCh; err != nil {
		t.Fatalf("runServe returned error: %v", err)
	}
}
