// Package notify implements C9, the out-of-band notification dispatcher.
// It satisfies pkg/logger.Dispatcher so any component can reach it simply
// by logging at WARN+ or tagging a log event with logger.Notify().
package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hiveln-bridge/bridge/pkg/backoff"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	// signatureLength is how many trailing characters of a message identify
	// its "pattern" for rate-limiting purposes.
	signatureLength = 20
	// rateLimitWindow and rateLimitMax bound how many messages sharing a
	// signature may be sent before the window throttles.
	rateLimitWindow = 60 * time.Second
	rateLimitMax    = 5
	// maxMessageLength truncates anything longer, with an ellipsis.
	maxMessageLength = 300
	// maxAttempts bounds the per-message retry budget.
	maxAttempts = 3
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Dispatcher fans a selected log event out to one or more chat bots.
type Dispatcher struct {
	bots       []Bot
	named      map[string]Bot
	silenced   map[string]bool
	backoffCfg backoff.Config

	mu        sync.Mutex
	sigSeen   map[string][]time.Time
	throttled map[string]bool
}

// New builds a Dispatcher that publishes to defaultBots by default, with
// extra named bots (addressable via a log event's ExtraBots field) and a
// per-config set of components whose events are never published.
func New(defaultBots []Bot, extraBots []Bot, silencedComponents []string) *Dispatcher {
	named := make(map[string]Bot, len(defaultBots)+len(extraBots))
	for _, b := range defaultBots {
		named[b.Name()] = b
	}
	for _, b := range extraBots {
		named[b.Name()] = b
	}
	silenced := make(map[string]bool, len(silencedComponents))
	for _, c := range silencedComponents {
		silenced[c] = true
	}
	return &Dispatcher{
		bots:      defaultBots,
		named:     named,
		silenced:  silenced,
		backoffCfg: backoff.Config{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
		},
		sigSeen:   make(map[string][]time.Time),
		throttled: make(map[string]bool),
	}
}

// Publish implements pkg/logger.Dispatcher. level/msg/component/extraBots
// come straight from the originating log event; logger.maybeNotify has
// already applied the severity/notify-flag selection rule before calling
// this.
func (d *Dispatcher) Publish(level, msg, component string, extraBots []string) {
	if d.silenced[component] {
		return
	}

	signature := trailingSignature(msg)
	allowed, throttleNotice := d.checkRateLimit(signature)
	if !allowed {
		return
	}

	targets := d.targetsFor(extraBots)
	if len(targets) == 0 {
		return
	}

	text := formatMessage(level, component, msg)
	if throttleNotice {
		text = fmt.Sprintf("%s\n(throttling further \"%s\"-pattern messages for %s)", text, signature, rateLimitWindow)
	}

	for _, bot := range targets {
		d.send(bot, text)
	}
}

func (d *Dispatcher) targetsFor(extraBots []string) []Bot {
	seen := make(map[string]bool, len(d.bots)+len(extraBots))
	targets := make([]Bot, 0, len(d.bots)+len(extraBots))
	for _, b := range d.bots {
		if !seen[b.Name()] {
			seen[b.Name()] = true
			targets = append(targets, b)
		}
	}
	for _, name := range extraBots {
		b, ok := d.named[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		targets = append(targets, b)
	}
	return targets
}

// checkRateLimit reports whether a message with this signature may be sent
// and whether this call is the one-time "now throttling" notice. Once a
// signature crosses rateLimitMax within rateLimitWindow, every subsequent
// message with that signature is dropped silently until the window clears.
func (d *Dispatcher) checkRateLimit(signature string) (allowed bool, throttleNotice bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rateLimitWindow)
	times := d.sigSeen[signature]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) < rateLimitMax {
		kept = append(kept, now)
		d.sigSeen[signature] = kept
		d.throttled[signature] = false
		return true, false
	}

	d.sigSeen[signature] = kept
	if !d.throttled[signature] {
		d.throttled[signature] = true
		return true, true
	}
	return false, false
}

// send retries a single bot delivery up to maxAttempts, honouring any
// transport-signalled retry-after delay in place of the default backoff
// step.
func (d *Dispatcher) send(bot Bot, text string) {
	attempt := 0
	err := backoff.Retry(context.Background(), d.backoffCfg, maxAttempts, func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout+ReadTimeout)
		defer cancel()

		sendErr := bot.Send(ctx, text)
		if sendErr == nil {
			return nil
		}

		var retryAfter *RetryAfterError
		if asRetryAfter(sendErr, &retryAfter) && retryAfter.RetryAfter > 0 {
			time.Sleep(retryAfter.RetryAfter)
		}
		return sendErr
	})
	if err != nil {
		logger.Error("notify: exhausted retry budget delivering message",
			zap.String("bot", bot.Name()), zap.Int("attempts", attempt), zap.Error(err))
	}
}

func asRetryAfter(err error, target **RetryAfterError) bool {
	for err != nil {
		if ra, ok := err.(*RetryAfterError); ok {
			*target = ra
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func formatMessage(level, component, msg string) string {
	msg = stripANSI(msg)
	msg = truncate(msg, maxMessageLength)
	if component != "" {
		return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(level), component, msg)
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(level), msg)
}

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func trailingSignature(msg string) string {
	msg = stripANSI(msg)
	if len(msg) <= signatureLength {
		return msg
	}
	return msg[len(msg)-signatureLength:]
}
