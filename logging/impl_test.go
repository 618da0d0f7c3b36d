package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	logger.Debugw("tick emitted", "seq", 3, "has_depth", true)
	logger.Infof("armed %s", "depth.mp4")
	logger.Warn("sink not ready")

	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 3)
	test.That(t, entries[0].Message, test.ShouldEqual, "tick emitted")
	test.That(t, entries[0].ContextMap()["seq"], test.ShouldEqual, int64(3))
	test.That(t, entries[0].ContextMap()["has_depth"], test.ShouldEqual, true)
	test.That(t, entries[1].Message, test.ShouldEqual, "armed depth.mp4")
	test.That(t, entries[2].Level, test.ShouldEqual, zapcore.WarnLevel)
}

func TestSubloggerAndFields(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	sub := logger.Sublogger("recording").WithFields("session", "abc")
	sub.Infow("finalized", "samples", 2)

	entries := logs.FilterMessage("finalized").All()
	test.That(t, entries, test.ShouldHaveLength, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "recording")
	test.That(t, entries[0].ContextMap()["session"], test.ShouldEqual, "abc")
	test.That(t, entries[0].ContextMap()["samples"], test.ShouldEqual, int64(2))
}

func TestLevelFiltering(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.SetLevel(WARN)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")

	test.That(t, logs.All(), test.ShouldHaveLength, 1)
	test.That(t, logger.GetLevel(), test.ShouldEqual, WARN)
}

func TestUnpairedKey(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("oops", "lonely")

	ctx := logs.All()[0].ContextMap()
	test.That(t, ctx["lonely"], test.ShouldNotBeNil)
}

func TestLevelFromString(t *testing.T) {
	for str, want := range map[string]Level{"debug": DEBUG, "INFO": INFO, "warning": WARN, "Error": ERROR} {
		got, err := LevelFromString(str)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}
