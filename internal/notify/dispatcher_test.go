package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiveln-bridge/bridge/pkg/logger"
)

type recordingBot struct {
	name string
	mu   sync.Mutex
	sent []string
	err  error
}

func (b *recordingBot) Name() string { return b.name }

func (b *recordingBot) Send(ctx context.Context, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, message)
	return nil
}

func (b *recordingBot) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.sent))
	copy(out, b.sent)
	return out
}

func TestPublish_SilencedComponentDropped(t *testing.T) {
	bot := &recordingBot{name: "primary"}
	d := New([]Bot{bot}, nil, []string{"noisy"})

	d.Publish("warn", "something happened", "noisy", nil)

	assert.Empty(t, bot.messages())
}

func TestPublish_TruncatesLongMessages(t *testing.T) {
	bot := &recordingBot{name: "primary"}
	d := New([]Bot{bot}, nil, nil)

	long := strings.Repeat("x", maxMessageLength+50)
	d.Publish("warn", long, "router", nil)

	msgs := bot.messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasSuffix(msgs[0], "..."))
	assert.LessOrEqual(t, len(msgs[0]), maxMessageLength+len("[WARN] router: ")+3)
}

func TestPublish_StripsANSIColor(t *testing.T) {
	bot := &recordingBot{name: "primary"}
	d := New([]Bot{bot}, nil, nil)

	colored := "\x1b[31mred alert\x1b[0m"
	d.Publish("error", colored, "router", nil)

	msgs := bot.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0], "\x1b[")
	assert.Contains(t, msgs[0], "red alert")
}

func TestPublish_RateLimitsRepeatedSignatureAndNoticesOnce(t *testing.T) {
	bot := &recordingBot{name: "primary"}
	d := New([]Bot{bot}, nil, nil)

	// Same trailing-20-char signature every time.
	msg := "recurring failure: connection refused by peer"
	for i := 0; i < rateLimitMax+3; i++ {
		d.Publish("warn", msg, "router", nil)
	}

	msgs := bot.messages()
	// rateLimitMax delivered, plus exactly one throttle notice, then silence.
	require.Len(t, msgs, rateLimitMax+1)
	assert.Contains(t, msgs[rateLimitMax], "throttling")
}

func TestPublish_WindowClearsAfterRateLimitPeriod(t *testing.T) {
	bot := &recordingBot{name: "primary"}
	d := New([]Bot{bot}, nil, nil)

	msg := "recurring failure: connection refused by peer"
	for i := 0; i < rateLimitMax; i++ {
		d.Publish("warn", msg, "router", nil)
	}
	require.Len(t, bot.messages(), rateLimitMax)

	// Simulate the window having elapsed by rewriting the seen timestamps
	// into the past rather than sleeping 60s in a unit test.
	d.mu.Lock()
	sig := trailingSignature(msg)
	for i := range d.sigSeen[sig] {
		d.sigSeen[sig][i] = d.sigSeen[sig][i].Add(-2 * rateLimitWindow)
	}
	d.throttled[sig] = false
	d.mu.Unlock()

	d.Publish("warn", msg, "router", nil)
	assert.Len(t, bot.messages(), rateLimitMax+1)
}

func TestPublish_MultiplexesToExtraBots(t *testing.T) {
	primary := &recordingBot{name: "primary"}
	extra := &recordingBot{name: "oncall"}
	d := New([]Bot{primary}, []Bot{extra}, nil)

	d.Publish("warn", "paging oncall", "ledger", []string{"oncall"})

	assert.Len(t, primary.messages(), 1)
	assert.Len(t, extra.messages(), 1)
}

func TestPublish_UnknownExtraBotIgnored(t *testing.T) {
	primary := &recordingBot{name: "primary"}
	d := New([]Bot{primary}, nil, nil)

	d.Publish("warn", "paging oncall", "ledger", []string{"nonexistent"})

	assert.Len(t, primary.messages(), 1)
}

func TestSend_RetriesOnTransportFailureThenSucceeds(t *testing.T) {
	bot := &flakyBot{name: "primary", failUntilAttempt: 2}
	d := New([]Bot{bot}, nil, nil)
	d.backoffCfg.InitialInterval = time.Millisecond
	d.backoffCfg.MaxInterval = time.Millisecond

	d.send(bot, "hello")

	assert.Equal(t, 2, bot.attempts)
	assert.Len(t, bot.sent, 1)
}

func TestSend_GivesUpAfterMaxAttempts(t *testing.T) {
	bot := &flakyBot{name: "primary", failUntilAttempt: maxAttempts + 10}
	d := New([]Bot{bot}, nil, nil)
	d.backoffCfg.InitialInterval = time.Millisecond
	d.backoffCfg.MaxInterval = time.Millisecond

	d.send(bot, "hello")

	assert.Equal(t, maxAttempts, bot.attempts)
	assert.Empty(t, bot.sent)
}

func TestSend_HonoursRetryAfterSignal(t *testing.T) {
	bot := &flakyBot{name: "primary", failUntilAttempt: 2, retryAfter: 10 * time.Millisecond}
	d := New([]Bot{bot}, nil, nil)
	d.backoffCfg.InitialInterval = time.Millisecond
	d.backoffCfg.MaxInterval = time.Millisecond

	start := time.Now()
	d.send(bot, "hello")
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	assert.Len(t, bot.sent, 1)
}

type flakyBot struct {
	name             string
	failUntilAttempt int
	retryAfter       time.Duration
	attempts         int
	sent             []string
}

func (b *flakyBot) Name() string { return b.name }

func (b *flakyBot) Send(ctx context.Context, message string) error {
	b.attempts++
	if b.attempts < b.failUntilAttempt {
		err := fmt.Errorf("transient failure on attempt %d", b.attempts)
		if b.retryAfter > 0 {
			return &RetryAfterError{Err: err, RetryAfter: b.retryAfter}
		}
		return err
	}
	b.sent = append(b.sent, message)
	return nil
}

// TestRebindRuntime_GatesAsyncDispatch covers the load-bearing contract
// from the logging subsystem: before RebindRuntime is called, Publish runs
// synchronously on the caller's goroutine (bounded by the dispatcher's own
// timeout); after RebindRuntime, it is handed off asynchronously so the log
// drain thread never blocks on notification I/O.
func TestRebindRuntime_GatesAsyncDispatch(t *testing.T) {
	require.NoError(t, logger.Init("development"))
	logger.ResetRuntimeBinding()
	defer logger.ResetRuntimeBinding()

	bot := &blockingBot{name: "primary", release: make(chan struct{})}
	d := New([]Bot{bot}, nil, nil)
	logger.SetNotifyDispatcher(d)

	done := make(chan struct{})
	go func() {
		logger.Warn("pre-rebind warning")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Publish returned before the blocking bot was released; rebind gate did not hold the caller")
	case <-time.After(50 * time.Millisecond):
	}
	close(bot.release)
	<-done

	bot2 := &blockingBot{name: "primary2", release: make(chan struct{})}
	d2 := New([]Bot{bot2}, nil, nil)
	logger.SetNotifyDispatcher(d2)
	logger.RebindRuntime()

	done2 := make(chan struct{})
	go func() {
		logger.Warn("post-rebind warning")
		close(done2)
	}()

	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked the caller after RebindRuntime; async handoff did not occur")
	}
	close(bot2.release)
}

type blockingBot struct {
	name    string
	release chan struct{}
}

func (b *blockingBot) Name() string { return b.name }

func (b *blockingBot) Send(ctx context.Context, message string) error {
	<-b.release
	return nil
}
