package debugger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"domtrace/internal/config"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Matcher decides whether a listed target is the one to trace.
type Matcher func(t DebuggingTarget) bool

// URLContains matches targets whose URL contains marker. An empty marker matches nothing.
func URLContains(marker string) Matcher {
	return func(t DebuggingTarget) bool {
		return marker != "" && strings.Contains(t.URL, marker)
	}
}

// TitleContains matches targets whose title contains marker. An empty marker matches nothing.
func TitleContains(marker string) Matcher {
	return func(t DebuggingTarget) bool {
		return marker != "" && strings.Contains(t.Title, marker)
	}
}

// AnyOf matches when at least one of the matchers does.
func AnyOf(matchers ...Matcher) Matcher {
	return func(t DebuggingTarget) bool {
		for _, m := range matchers {
			if m(t) {
				return true
			}
		}
		return false
	}
}

// ChromeDebugger reads the target listing of a remote-debugging endpoint
type ChromeDebugger struct {
	listURL string
	timeout time.Duration
	logger  *zap.Logger
}

// NewChromeDebugger creates a new ChromeDebugger instance
func NewChromeDebugger(cfg config.EndpointConfig, logger *zap.Logger) *ChromeDebugger {
	return &ChromeDebugger{
		listURL: cfg.ListURL(),
		timeout: cfg.Timeout,
		logger:  logger.Named("locator"),
	}
}

// GetDebuggingTargets fetches the full listing.
func (c *ChromeDebugger) GetDebuggingTargets(ctx context.Context) ([]DebuggingTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.logger.Debug("Fetching debugging targets", zap.String("url", c.listURL))

	agent := fiber.Get(c.listURL)
	if c.timeout > 0 {
		agent.Timeout(c.timeout)
	}

	var targets []DebuggingTarget
	code, _, errs := agent.Struct(&targets)
	if len(errs) > 0 {
		return nil, fmt.Errorf("error getting debug targets: %w", errors.Join(errs...))
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("error getting debug targets: unexpected status %d", code)
	}
	return targets, nil
}

// FindTarget returns the first listed target accepted by match, or ErrNoTarget.
func (c *ChromeDebugger) FindTarget(ctx context.Context, match Matcher) (*DebuggingTarget, error) {
	targets, err := c.GetDebuggingTargets(ctx)
	if err != nil {
		return nil, err
	}

	for i, target := range targets {
		if match(target) {
			c.logger.Debug("Selected target",
				zap.String("id", target.ID),
				zap.String("title", target.Title),
				zap.String("ws_url", target.WebSocketDebuggerUrl))
			return &targets[i], nil
		}
	}
	return nil, fmt.Errorf("%w among %d listed targets", ErrNoTarget, len(targets))
}
