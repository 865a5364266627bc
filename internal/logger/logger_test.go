package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{FatalLevel, "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestStructuredLogger(t *testing.T) {
	t.Run("LogLevelFiltering", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, WarnLevel)

		l.Debug("debug message")
		assert.Empty(t, buf.String())

		l.Info("info message")
		assert.Empty(t, buf.String())

		l.Warn("warn message")
		assert.NotEmpty(t, buf.String())

		buf.Reset()
		l.Error("error message")
		assert.NotEmpty(t, buf.String())
	})

	t.Run("StructuredFields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, InfoLevel)

		l.Info("test message",
			String("key1", "value1"),
			Int("key2", 42),
			Bool("key3", true),
			Error(errors.New("test error")),
			Duration("duration", 1000000000),
		)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "test message", entry["message"])
		assert.Equal(t, "value1", entry["key1"])
		assert.Equal(t, float64(42), entry["key2"])
		assert.Equal(t, true, entry["key3"])
		assert.Equal(t, "test error", entry["error"])
		assert.Equal(t, "1s", entry["duration"])
		assert.NotNil(t, entry["timestamp"])
		assert.NotNil(t, entry["caller"])
	})

	t.Run("WithFields", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewLogger(&buf, InfoLevel)

		l := base.WithFields(
			String("service", "hypo"),
			String("version", "1.0.0"),
		)
		l.Info("test message")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

		assert.Equal(t, "hypo", entry["service"])
		assert.Equal(t, "1.0.0", entry["version"])
	})

	t.Run("WithContext", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, InfoLevel)

		ctx := WithRequestID(context.Background(), "req-123")
		ctx = WithDeviceID(ctx, "dev-456")

		l.WithContext(ctx).Info("test message")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

		assert.Equal(t, "req-123", entry["request_id"])
		assert.Equal(t, "dev-456", entry["device_id"])
	})

	t.Run("SetLevel", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, InfoLevel)

		l.Debug("debug 1")
		assert.Empty(t, buf.String())

		l.SetLevel(DebugLevel)
		l.Debug("debug 2")
		assert.NotEmpty(t, buf.String())
	})

	t.Run("GetLevel", func(t *testing.T) {
		l := NewLogger(&bytes.Buffer{}, InfoLevel)
		assert.Equal(t, InfoLevel, l.GetLevel())

		l.SetLevel(ErrorLevel)
		assert.Equal(t, ErrorLevel, l.GetLevel())
	})

	t.Run("PrettyPrint", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, InfoLevel)
		l.SetPrettyPrint(true)

		l.Info("test message", String("key", "value"))

		output := buf.String()
		assert.Contains(t, output, "{\n")
		assert.Contains(t, output, "\n}")
	})
}

func TestHypoError(t *testing.T) {
	t.Run("BasicError", func(t *testing.T) {
		err := NewHypoError(CodeInternal, "something went wrong", nil)

		assert.Equal(t, CodeInternal, err.Code)
		assert.Equal(t, "INTERNAL: something went wrong", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("ErrorWithCause", func(t *testing.T) {
		cause := errors.New("underlying error")
		err := NewHypoError(CodeNetwork, "network failure", cause)

		assert.Equal(t, cause, err.Unwrap())
		assert.Contains(t, err.Error(), "caused by: underlying error")
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("ErrorWithDetails", func(t *testing.T) {
		err := NewHypoError(CodeBadAuth, "decryption failed", nil)
		err.WithDetails("peer", "dev-1").WithDetails("reason", "tag mismatch")

		assert.Equal(t, "dev-1", err.Details["peer"])
		assert.Equal(t, "tag mismatch", err.Details["reason"])
	})

	t.Run("TaxonomyCodesDefined", func(t *testing.T) {
		codes := []string{
			CodeExpired, CodeNotFound, CodeClaimed, CodeReplay, CodeTimeSkew,
			CodeInvalidSig, CodeBadAuth, CodeTooLarge, CodeInternal, CodeNetwork, CodeConfig,
		}
		for _, c := range codes {
			assert.NotEmpty(t, c)
		}
	})
}

func TestDefaultLogger(t *testing.T) {
	t.Run("DefaultLoggerExists", func(t *testing.T) {
		assert.NotNil(t, GetDefaultLogger())
	})

	t.Run("SetDefaultLogger", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger := NewLogger(&buf, DebugLevel)
		SetDefaultLogger(newLogger)

		Debug("test debug")
		assert.NotEmpty(t, buf.String())

		buf.Reset()
		Info("test info")
		assert.NotEmpty(t, buf.String())
	})
}

func TestFieldConstructors(t *testing.T) {
	t.Run("StringField", func(t *testing.T) {
		field := String("key", "value")
		assert.Equal(t, "key", field.Key)
		assert.Equal(t, "value", field.Value)
	})

	t.Run("ErrorField", func(t *testing.T) {
		err := errors.New("test error")
		field := Error(err)
		assert.Equal(t, "test error", field.Value)

		field = Error(nil)
		assert.Nil(t, field.Value)
	})
}
