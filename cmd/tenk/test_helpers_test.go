package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tenk/internal/config"
	"tenk/internal/daemon"
	"tenk/internal/daemonrun"
	"tenk/internal/testsupport"
	"tenk/internal/tracker"
)

type cliTestEnv struct {
	cfg        *config.Config
	service    *tracker.Service
	store      tracker.Store
	detector   *testsupport.StubDetector
	server     *httptest.Server
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"TENK_VISION_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY", "TENK_VISION_MODEL",
		"TENK_MONGO_URI", "MONGO_URI", "TENK_STORE_BACKEND", "TENK_API_TOKEN",
		"TENK_BIND", "TENK_TIMEZONE", "TENK_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	detector := &testsupport.StubDetector{Objects: []string{"Taza", "Libro"}, TokensUsed: 300}
	service := daemonrun.NewService(cfg, store, detector, nil)
	d, err := daemon.New(cfg, store, service, nil, daemon.Options{Version: "test", VisionModel: "stub"})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)

	return &cliTestEnv{
		cfg:        cfg,
		service:    service,
		store:      store,
		detector:   detector,
		server:     server,
		configPath: configPath,
	}
}

// placeAll walks one session through detection and placement of every object.
func (env *cliTestEnv) placeAll(t *testing.T, locations ...string) *tracker.Session {
	t.Helper()
	ctx := context.Background()
	session, err := env.service.Begin(ctx, "cli-test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := env.service.Detect(ctx, session.ID, bytes.NewReader(testsupport.PNG(t, 32, 32))); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, err := env.service.ConfirmOrder(ctx, session.ID, env.detector.Objects); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	for _, location := range locations {
		if _, err := env.service.Start(ctx, session.ID, ""); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if session, _, err = env.service.Finish(ctx, session.ID, location); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	return session
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, args, env.server.URL, env.configPath)
}

func runCLI(t *testing.T, args []string, server, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if server != "" {
		flags = append(flags, "--server", server)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
