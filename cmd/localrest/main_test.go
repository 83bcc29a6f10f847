package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/localrest/internal/listener"
	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/router"
	"github.com/vyrodovalexey/localrest/internal/settings"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		expected string
	}{
		{name: "returns default when env not set", expected: "default-value"},
		{name: "returns env value when set", envValue: "env-value", setEnv: true, expected: "env-value"},
		{name: "returns default when env is empty string", envValue: "", setEnv: true, expected: "default-value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv("LOCALREST_TEST_STRING", tt.envValue)
			}
			assert.Equal(t, tt.expected, getEnvOrDefault("LOCALREST_TEST_STRING", "default-value"))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value        string
		defaultValue bool
		expected     bool
	}{
		{value: "", defaultValue: true, expected: true},
		{value: "true", defaultValue: false, expected: true},
		{value: "YES", defaultValue: false, expected: true},
		{value: "on", defaultValue: false, expected: true},
		{value: "0", defaultValue: true, expected: false},
		{value: "off", defaultValue: true, expected: false},
		{value: "maybe", defaultValue: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LOCALREST_TEST_BOOL", tt.value)
			assert.Equal(t, tt.expected, getEnvBool("LOCALREST_TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{value: "", expected: time.Second},
		{value: "250ms", expected: 250 * time.Millisecond},
		{value: "soon", expected: time.Second},
		{value: "-1s", expected: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LOCALREST_TEST_DURATION", tt.value)
			assert.Equal(t, tt.expected, getEnvDuration("LOCALREST_TEST_DURATION", time.Second))
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flags, err := parseFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, "localrest.yaml", flags.settingsPath)
		assert.Equal(t, "info", flags.logLevel)
		assert.Equal(t, "json", flags.logFormat)
		assert.Equal(t, time.Second, flags.debounce)
		assert.True(t, flags.watch)
		assert.True(t, flags.enableMetrics)
		assert.False(t, flags.showVersion)
	})

	t.Run("environment fallbacks", func(t *testing.T) {
		t.Setenv("LOCALREST_SETTINGS_PATH", "/etc/localrest/settings.db")
		t.Setenv("LOCALREST_WATCH", "false")

		flags, err := parseFlags(nil)
		require.NoError(t, err)
		assert.Equal(t, "/etc/localrest/settings.db", flags.settingsPath)
		assert.False(t, flags.watch)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("LOCALREST_LOG_LEVEL", "warn")

		flags, err := parseFlags([]string{
			"-log-level", "debug",
			"-log-format", "console",
			"-debounce", "50ms",
			"-metrics=false",
			"-version",
		})
		require.NoError(t, err)
		assert.Equal(t, "debug", flags.logLevel)
		assert.Equal(t, "console", flags.logFormat)
		assert.Equal(t, 50*time.Millisecond, flags.debounce)
		assert.False(t, flags.enableMetrics)
		assert.True(t, flags.showVersion)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseFlags([]string{"-nope"})
		assert.Error(t, err)
	})
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "localrest version dev")
	assert.Contains(t, buf.String(), "Git commit: unknown")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func awaitReady(t *testing.T, o *listener.Orchestrator, kind listener.Kind) {
	t.Helper()
	ready := o.Ready(kind)
	require.NotNil(t, ready, "%s listener not bound", kind)
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s listener never became ready", kind)
	}
}

func TestApplication_ServesBothListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localrest.yaml")
	initial := settings.Defaults()
	initial.Port = freePort(t)
	initial.InsecurePort = freePort(t)
	initial.EnableInsecureServer = true
	require.NoError(t, settings.NewFileStore(path).Save(initial))

	app, err := initApplication(cliFlags{
		settingsPath:  path,
		debounce:      10 * time.Millisecond,
		watch:         true,
		enableMetrics: true,
	}, observability.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, app.metrics)

	require.NoError(t, startService(context.Background(), app, observability.NopLogger()))
	defer stopService(app, observability.NopLogger())

	awaitReady(t, app.orchestrator, listener.KindSecure)
	awaitReady(t, app.orchestrator, listener.KindInsecure)
	assert.Equal(t, listener.StateSecureAndInsecure, app.orchestrator.State())

	insecureURL := "http://" + app.orchestrator.Addr(listener.KindInsecure)
	resp, err := http.Get(insecureURL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status router.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, router.ServiceName, status.Service)
	assert.False(t, status.Authenticated)
	require.NotNil(t, status.Certificate)
	assert.True(t, status.Certificate.Compliant)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM([]byte(app.controller.CertificatePEM())))
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
		},
	}

	secureURL := "https://" + app.orchestrator.Addr(listener.KindSecure)
	req, err := http.NewRequest(http.MethodGet, secureURL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+app.controller.APIKey())

	resp2, err := client.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	resp3, err := client.Get(secureURL + router.CertificatePath)
	require.NoError(t, err)
	defer resp3.Body.Close()
	body, err := io.ReadAll(resp3.Body)
	require.NoError(t, err)
	assert.Equal(t, app.controller.CertificatePEM(), string(body))
}

func TestInitApplication_BoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localrest.db")

	app, err := initApplication(cliFlags{
		settingsPath: path,
		debounce:     time.Second,
	}, observability.NopLogger())
	require.NoError(t, err)

	_, ok := app.store.(*settings.BoltStore)
	assert.True(t, ok)
	assert.Nil(t, app.metrics)
	assert.NoError(t, app.closeStore())
}
