package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Str("account_id", "a1").Msg("balance recalculated")

	assert.Contains(t, buf.String(), "balance recalculated")
	assert.Contains(t, buf.String(), `"account_id":"a1"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNew_AppliesLevel(t *testing.T) {
	assert.Equal(t, zerolog.ErrorLevel, New("error", "json").GetLevel())
	assert.Equal(t, zerolog.DebugLevel, New("debug", "console").GetLevel())
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")
	assert.NotZero(t, buf.Len())

	assert.Equal(t, zerolog.Disabled, FromContext(context.Background()).GetLevel())
}
