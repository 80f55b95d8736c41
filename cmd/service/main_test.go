package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-advice-service/internal/advice"
	"github.com/kjstillabower/weather-advice-service/internal/client"
	"github.com/kjstillabower/weather-advice-service/internal/models"
)

func runAdvise(t *testing.T, args ...string) adviseOutput {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"advise"}, args...))
	require.NoError(t, cmd.Execute())

	var got adviseOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got
}

func TestAdvise_MatchesEngine(t *testing.T) {
	got := runAdvise(t, "--temperature", "38", "--humidity", "85", "--description", "Sunny")

	want := advice.Derive(advice.Reading{
		Temperature: advice.Float(38),
		Humidity:    advice.Float(85),
		Description: "Sunny",
	})
	assert.Equal(t, want, got.Bundle)
	assert.Empty(t, got.Rules)
}

func TestAdvise_OmittedFlagsAreUnknown(t *testing.T) {
	got := runAdvise(t)

	assert.Equal(t, advice.Derive(advice.Reading{}), got.Bundle)
	assert.Equal(t, "Weather looks normal overall.", got.Summary)
}

func TestAdvise_ZeroIsNotUnknown(t *testing.T) {
	got := runAdvise(t, "--temperature", "0")

	assert.Equal(t, advice.Derive(advice.Reading{Temperature: advice.Float(0)}), got.Bundle)
	assert.NotEqual(t, advice.Derive(advice.Reading{}).Precautions, got.Precautions)
}

func TestAdvise_Explain(t *testing.T) {
	got := runAdvise(t, "--description", "Heavy rain", "--explain")

	_, fired := advice.Explain(advice.Reading{Description: "Heavy rain"})
	require.NotEmpty(t, fired)
	assert.Equal(t, fired, got.Rules)
}

func TestAdvise_RejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"advise", "London"})

	assert.Error(t, cmd.Execute())
}

type keyChecker struct{ err error }

func (k keyChecker) GetCurrentWeather(context.Context, string) (models.WeatherData, error) {
	return models.WeatherData{}, nil
}
func (k keyChecker) ValidateAPIKey(context.Context) error { return k.err }
func (k keyChecker) Configured() bool                     { return true }

func TestCheckAPIKey_LogLevels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want zapcore.Level
	}{
		{name: "valid", err: nil, want: zap.InfoLevel},
		{name: "rejected", err: &client.ProviderError{Status: 401, Code: 2006, Message: "API key is invalid."}, want: zap.ErrorLevel},
		{name: "unreachable", err: fmt.Errorf("%w: dial tcp: connection refused", client.ErrUpstreamUnreachable), want: zap.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)

			checkAPIKey(context.Background(), keyChecker{err: tt.err}, zap.New(core))

			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.want, logs.All()[0].Level)
		})
	}
}
