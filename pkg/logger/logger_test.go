// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
	"github.com/stacklok/toolhive-core/logging"
)

func TestUnstructuredLogsCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"Default Case", "", true},
		{"Explicitly True", "true", true},
		{"Explicitly False", "false", false},
		{"Invalid Value", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			mockEnv := mocks.NewMockReader(ctrl)
			mockEnv.EXPECT().Getenv("UNSTRUCTURED_LOGS").Return(tt.envValue)

			assert.Equal(t, tt.expected, unstructuredLogsWithEnv(mockEnv))
		})
	}
}

// restoreLoggers puts back the singleton and the slog default after a test.
func restoreLoggers(t *testing.T) {
	t.Helper()
	prev := singleton.Load()
	prevDefault := slog.Default()
	t.Cleanup(func() {
		singleton.Store(prev)
		slog.SetDefault(prevDefault)
	})
}

func TestLogHelpers(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name     string
		logFn    func()
		contains []string
	}{
		{"Debugw", func() { Debugw("debug kv", "key", "val") }, []string{"debug kv", "val"}},
		{"Infof", func() { Infof("info %s", "formatted") }, []string{"info formatted"}},
		{"Infow", func() { Infow("info kv", "key", "val") }, []string{"info kv", "val"}},
		{"Warnw", func() { Warnw("warn kv", "key", "val") }, []string{"warn kv", "val"}},
		{"Errorw", func() { Errorw("error kv", "key", "val") }, []string{"error kv", "val"}},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			restoreLoggers(t)
			var buf bytes.Buffer
			Set(logging.New(
				logging.WithOutput(&buf),
				logging.WithLevel(slog.LevelDebug),
			))

			tc.logFn()

			for _, want := range tc.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestGet(t *testing.T) { //nolint:paralleltest // mutates singleton
	restoreLoggers(t)
	var buf bytes.Buffer
	Set(logging.New(logging.WithOutput(&buf)))

	got := Get()
	require.NotNil(t, got)

	got.Info("get test")
	assert.Contains(t, buf.String(), "get test")
}

func TestInitializeWithEnv(t *testing.T) { //nolint:paralleltest // mutates singleton
	tests := []struct {
		name            string
		opts            Options
		unstructuredEnv string
		readsEnv        bool
		wantErr         bool
	}{
		{name: "default reads env", readsEnv: true},
		{name: "env selects json", unstructuredEnv: "false", readsEnv: true},
		{name: "explicit text", opts: Options{Format: FormatText}},
		{name: "explicit json with debug", opts: Options{Format: FormatJSON, Debug: true}},
		{name: "unknown format", opts: Options{Format: "xml"}, wantErr: true},
	}

	for _, tc := range tests { //nolint:paralleltest // mutates singleton
		t.Run(tc.name, func(t *testing.T) {
			restoreLoggers(t)

			ctrl := gomock.NewController(t)
			mockEnv := mocks.NewMockReader(ctrl)
			if tc.readsEnv {
				mockEnv.EXPECT().Getenv("UNSTRUCTURED_LOGS").Return(tc.unstructuredEnv)
			}

			err := InitializeWithEnv(mockEnv, tc.opts)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			got := singleton.Load()
			require.NotNil(t, got)
			assert.Same(t, got, slog.Default())
		})
	}
}
