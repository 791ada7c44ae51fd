package activity_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/openstrap"
	"github.com/srg/openstrap/internal/activity"
	"github.com/srg/openstrap/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLuaClassifier(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("labels from strings and numbers", func(t *testing.T) {
		c, err := activity.NewLuaClassifier(`
			function classify(readings)
				local out = {}
				for i, r in ipairs(readings) do
					if r.bpm > 80 then out[i] = "active" else out[i] = 3 end
				end
				print("seen", #readings, readings[1].rr[1])
				return out
			end`, "inline", logger)
		require.NoError(t, err)
		defer c.Close()

		readings := series(60, 95)
		readings[0].RR = []uint16{1000}
		labels, err := c.Classify(readings)
		require.NoError(t, err)
		assert.Equal(t, []store.Activity{store.ActivitySleep, store.ActivityActive}, labels)
		assert.Equal(t, []string{"seen\t2\t1000"}, c.Output(), "print MUST be captured")
		assert.Empty(t, c.Output(), "Output MUST drain")
	})

	t.Run("missing classify function", func(t *testing.T) {
		_, err := activity.NewLuaClassifier(`x = 1`, "inline", logger)
		var scriptErr *activity.ScriptError
		require.True(t, errors.As(err, &scriptErr))
		assert.Equal(t, "load", scriptErr.Stage)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := activity.NewLuaClassifier(`function classify(`, "broken.lua", logger)
		assert.ErrorContains(t, err, "broken.lua")
	})

	t.Run("runtime error", func(t *testing.T) {
		c, err := activity.NewLuaClassifier(`function classify(r) error("boom") end`, "inline", logger)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Classify(series(60))
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("short result is rejected", func(t *testing.T) {
		c, err := activity.NewLuaClassifier(`function classify(r) return {"sleep"} end`, "inline", logger)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Classify(series(60, 61))
		assert.ErrorContains(t, err, "label 2")
	})

	t.Run("builtin script agrees with the threshold classifier", func(t *testing.T) {
		c, err := activity.NewLuaClassifier(openstrap.DefaultClassifierScript, "builtin", logger)
		require.NoError(t, err)
		defer c.Close()

		readings := night()
		want, err := activity.NewThresholdClassifier().Classify(readings)
		require.NoError(t, err)
		got, err := c.Classify(readings)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}
