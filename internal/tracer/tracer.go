package tracer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"domtrace/internal/cdp"
	"domtrace/internal/config"
	"domtrace/internal/debugger"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locator finds the target to trace.
type Locator interface {
	FindTarget(ctx context.Context, match debugger.Matcher) (*debugger.DebuggingTarget, error)
}

// Tracer runs the locate, connect, enable, settle, evaluate sequence against one target.
type Tracer struct {
	cfg     *config.Config
	locator Locator
	out     io.Writer
	logger  *zap.Logger
}

// New creates a Tracer that discovers targets through the configured endpoint and prints
// reports to out.
func New(cfg *config.Config, out io.Writer, logger *zap.Logger) *Tracer {
	return &Tracer{
		cfg:     cfg,
		locator: debugger.NewChromeDebugger(cfg.Endpoint, logger),
		out:     out,
		logger:  logger.Named("tracer"),
	}
}

// WithLocator replaces the target locator.
func (t *Tracer) WithLocator(l Locator) *Tracer {
	t.locator = l
	return t
}

// Run performs one trace. It never panics; every outcome is described by the Result.
func (t *Tracer) Run(ctx context.Context) (res Result) {
	logger := t.logger.With(zap.String("run_id", uuid.NewString()))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Trace panicked", zap.Any("panic", r))
			res.Status = StatusError
			res.Err = fmt.Errorf("trace panicked: %v", r)
		}
	}()

	match := debugger.AnyOf(
		debugger.URLContains(t.cfg.Target.URLMarker),
		debugger.TitleContains(t.cfg.Target.TitleMarker),
	)
	target, err := t.locator.FindTarget(ctx, match)
	if err != nil {
		logger.Debug("No target to trace", zap.Error(err))
		return Result{Status: StatusEmpty, Err: err}
	}
	res.Target = target

	if err := t.trace(ctx, logger, target, &res); err != nil {
		res.Status = StatusError
		res.Err = err
		return res
	}
	if len(res.Reports) > 0 {
		res.Status = StatusSuccess
	} else {
		res.Status = StatusEmpty
	}
	return res
}

func (t *Tracer) trace(ctx context.Context, logger *zap.Logger, target *debugger.DebuggingTarget, res *Result) error {
	scan, err := scanExpression(t.cfg.Trace)
	if err != nil {
		return err
	}

	conn, err := cdp.Dial(ctx, target.WebSocketDebuggerUrl, t.cfg.Endpoint.Timeout)
	if err != nil {
		return err
	}
	ch := cdp.NewChannel(conn, logger)
	defer ch.Close()

	// Both observers must be attached before Runtime.enable goes out.
	contexts := cdp.NewContextAccumulator(ch)
	defer contexts.Close()
	rpc := cdp.NewCorrelator(ch)
	defer rpc.Close()

	msg, err := t.call(ctx, rpc, runtime.CommandEnable, runtime.Enable())
	if err != nil {
		return fmt.Errorf("enabling runtime: %w", err)
	}
	if msg.Error != nil {
		return fmt.Errorf("enabling runtime: %w", msg.Error)
	}

	// Announcements of existing contexts are not tied to any response, so the settle delay
	// stands in for an "all reported" signal.
	if err := sleep(ctx, t.cfg.Trace.SettleDelay); err != nil {
		return err
	}

	found := contexts.Contexts()
	res.Contexts = len(found)
	logger.Debug("Contexts settled", zap.Int("count", len(found)))

	for _, ec := range found {
		report, err := t.inspect(ctx, logger, rpc, ec.ID, scan)
		if err != nil {
			return err
		}
		if report == nil {
			continue
		}
		if err := writeReport(t.out, report.Value); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		res.Reports = append(res.Reports, *report)
	}
	return nil
}

// inspect probes one context and scans it when it belongs to the marked page. A nil report
// with a nil error means there is nothing to print for this context.
func (t *Tracer) inspect(ctx context.Context, logger *zap.Logger, rpc *cdp.Correlator, id runtime.ExecutionContextID, scan string) (*Report, error) {
	logger = logger.With(zap.Int64("context_id", int64(id)))

	value, ok, err := t.evaluate(ctx, logger, rpc, runtime.Evaluate(hrefExpression).WithContextID(id))
	if err != nil || !ok {
		return nil, err
	}
	href, isString := decodeString(value)
	if !isString || !strings.Contains(href, t.cfg.Trace.PageMarker) {
		logger.Debug("Skipping context", zap.String("href", href))
		return nil, nil
	}

	value, ok, err = t.evaluate(ctx, logger, rpc, runtime.Evaluate(scan).WithContextID(id).WithReturnByValue(true))
	if err != nil || !ok {
		return nil, err
	}
	elements, matches, err := decodeMatches(value)
	if err != nil {
		logger.Debug("Unexpected scan value", zap.Error(err))
		return nil, nil
	}
	logger.Info("Scanned context", zap.String("href", href), zap.Int("matches", len(elements)))
	if len(elements) == 0 {
		return nil, nil
	}
	if len(matches) < len(elements) {
		logger.Debug("Scan elements without the expected shape", zap.Int("count", len(elements)-len(matches)))
	}
	return &Report{ContextID: id, Href: href, Value: value, Matches: matches}, nil
}

// evaluate runs one Runtime.evaluate. ok is false when the browser answered without a
// usable value: a protocol error, a thrown exception, or undefined.
func (t *Tracer) evaluate(ctx context.Context, logger *zap.Logger, rpc *cdp.Correlator, params *runtime.EvaluateParams) (value []byte, ok bool, err error) {
	msg, err := t.call(ctx, rpc, runtime.CommandEvaluate, params)
	if err != nil {
		return nil, false, fmt.Errorf("evaluating in context %d: %w", params.ContextID, err)
	}

	var ret runtime.EvaluateReturns
	if err := msg.Unmarshal(&ret); err != nil {
		logger.Debug("Evaluation failed", zap.Error(err))
		return nil, false, nil
	}
	if ret.ExceptionDetails != nil {
		logger.Debug("Evaluation threw", zap.String("text", ret.ExceptionDetails.Text))
		return nil, false, nil
	}
	if ret.Result == nil || len(ret.Result.Value) == 0 {
		return nil, false, nil
	}
	return []byte(ret.Result.Value), true, nil
}

func (t *Tracer) call(ctx context.Context, rpc *cdp.Correlator, method cdproto.MethodType, params any) (*cdp.Message, error) {
	if t.cfg.Trace.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Trace.CallTimeout)
		defer cancel()
	}
	return rpc.Call(ctx, method, params)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
