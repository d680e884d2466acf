// internal/attempt/events_test.go
package attempt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogReporterFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewLogReporter(zap.New(core))

	r.Report(Event{AttemptID: "a-1", Iteration: 2, State: Answering, Question: "Notice Period", Answer: "1 Month"})
	r.Report(Event{AttemptID: "a-1", Iteration: 3, State: Scanning})

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "a-1", fields["attempt_id"])
	assert.Equal(t, int64(2), fields["iteration"])
	assert.Equal(t, "Answering", fields["state"])
	assert.Equal(t, "Notice Period", fields["question"])
	assert.Equal(t, "1 Month", fields["answer"])

	_, hasQuestion := entries[1].ContextMap()["question"]
	assert.False(t, hasQuestion, "empty optional fields are omitted")
}

func TestMultiSink(t *testing.T) {
	var got []Outcome
	ok := SinkFunc(func(_ context.Context, o Outcome) error {
		got = append(got, o)
		return nil
	})
	boom := errors.New("db down")
	failing := SinkFunc(func(context.Context, Outcome) error { return boom })

	core, logs := observer.New(zapcore.InfoLevel)
	sink := MultiSink{failing, nil, ok, NewLogSink(zap.New(core))}

	err := sink.Emit(context.Background(), Outcome{JobReference: "j", Applied: true, Reason: string(ReasonConfirmed)})
	assert.ErrorIs(t, err, boom)
	require.Len(t, got, 1, "a failing sink does not starve the others")
	assert.Equal(t, 1, logs.FilterMessage("Application submitted.").Len())
}

func TestCanTransition(t *testing.T) {
	legal := [][2]State{
		{Scanning, Verifying}, {Scanning, Answering}, {Answering, Advancing},
		{Answering, Scanning}, {Advancing, Scanning}, {Verifying, Succeeded},
		{Verifying, Failed}, {Scanning, Abandoned}, {Advancing, Failed}, {Answering, Abandoned},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}
	illegal := [][2]State{
		{Scanning, Advancing}, {Scanning, Succeeded}, {Answering, Verifying},
		{Advancing, Answering}, {Advancing, Succeeded}, {Verifying, Scanning},
		{Succeeded, Scanning}, {Failed, Abandoned}, {Abandoned, Failed},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	a := newAttempt("j")
	assert.ErrorIs(t, a.to(Succeeded), ErrIllegalTransition)
	assert.Equal(t, Scanning, a.State)
}

func TestErrorReason(t *testing.T) {
	cause := errors.New("tab crashed")
	err := error(&Error{Reason: ReasonSessionLost, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ReasonSessionLost, ReasonOf(err))
	assert.Equal(t, Reason(""), ReasonOf(cause))
	assert.Equal(t, "SessionLost: tab crashed", err.Error())
}
