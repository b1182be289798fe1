package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"grape/pkg/telemetry"
)

type stepStatus string

const (
	stepPending stepStatus = "pending"
	stepRunning stepStatus = "running"
	stepDone    stepStatus = "done"
	stepSkipped stepStatus = "skipped"
	stepFailed  stepStatus = "failed"
)

type stepState struct {
	ID      string
	Title   string
	Status  stepStatus
	Message string
}

// TelemetryOutput turns the spans of a telemetry.Operation into one line
// per step transition on w.
type TelemetryOutput struct {
	provider *sdktrace.TracerProvider
}

// NewTelemetryOutput writes step progress to stderr.
func NewTelemetryOutput() *TelemetryOutput {
	return NewTelemetryOutputTo(os.Stderr, IsInteractive())
}

func NewTelemetryOutputTo(w io.Writer, styled bool) *TelemetryOutput {
	printer := &linePrinter{w: w, styled: styled, last: make(map[string]stepStatus)}
	observer := newStepObserver(printer.onStep)
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&stepSpanProcessor{observer: observer}))
	return &TelemetryOutput{provider: provider}
}

func (o *TelemetryOutput) Tracer(name string) trace.Tracer {
	return o.provider.Tracer(name)
}

func (o *TelemetryOutput) Close() {
	if o == nil || o.provider == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

type linePrinter struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
	last   map[string]stepStatus
}

func (p *linePrinter) onStep(step stepState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if step.Status == stepPending || p.last[step.ID] == step.Status {
		return
	}
	p.last[step.ID] = step.Status
	if p.styled {
		fmt.Fprintln(p.w, styledStepLine(step))
		return
	}
	fmt.Fprintln(p.w, formatStepLine(step))
}

func formatStepLine(step stepState) string {
	prefix := "[..]"
	switch step.Status {
	case stepRunning:
		prefix = "[->]"
	case stepDone:
		prefix = "[ok]"
	case stepSkipped:
		prefix = "[--]"
	case stepFailed:
		prefix = "[x]"
	}
	if step.Message != "" {
		return fmt.Sprintf("  %s %s (%s)", prefix, step.Title, step.Message)
	}
	return fmt.Sprintf("  %s %s", prefix, step.Title)
}

func styledStepLine(step stepState) string {
	var icon string
	title := step.Title
	switch step.Status {
	case stepRunning:
		icon = AccentStyle.Render("●")
	case stepDone:
		icon = SuccessStyle.Render("✓")
	case stepSkipped:
		icon = MutedStyle.Render("-")
		title = MutedStyle.Render(title)
	case stepFailed:
		icon = ErrorStyle.Render("✗")
	default:
		icon = FaintStyle.Render("○")
	}
	line := "  " + icon + " " + title
	if step.Message != "" {
		line += " " + MutedStyle.Render("("+step.Message+")")
	}
	return line
}

type stepObserver struct {
	mu       sync.Mutex
	steps    map[string]stepState
	reporter func(stepState)
}

func newStepObserver(reporter func(stepState)) *stepObserver {
	return &stepObserver{steps: make(map[string]stepState), reporter: reporter}
}

func (o *stepObserver) onPlan(plan telemetry.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, planned := range plan.Steps {
		id := strings.TrimSpace(planned.ID)
		if id == "" {
			continue
		}
		title := strings.TrimSpace(planned.Title)
		if title == "" {
			title = id
		}
		o.steps[id] = stepState{ID: id, Title: title, Status: stepPending}
	}
}

func (o *stepObserver) update(id string, status stepStatus, message string) {
	o.mu.Lock()
	step, ok := o.steps[id]
	if !ok {
		step = stepState{ID: id, Title: id}
	}
	step.Status = status
	step.Message = strings.TrimSpace(message)
	o.steps[id] = step
	o.mu.Unlock()

	if o.reporter != nil {
		o.reporter(step)
	}
}

func (o *stepObserver) step(id string) (stepState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.steps[id]
	return s, ok
}

type stepSpanProcessor struct {
	observer *stepObserver
}

func (p *stepSpanProcessor) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if span.Parent().IsValid() {
		if attributeValue(span.Attributes(), telemetry.StepSkippedKey).AsBool() {
			return
		}
		p.observer.update(span.Name(), stepRunning, "")
		return
	}

	planJSON := attributeValue(span.Attributes(), telemetry.PlanJSONKey).AsString()
	if strings.TrimSpace(planJSON) == "" {
		return
	}
	var plan telemetry.Plan
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return
	}
	p.observer.onPlan(plan)
}

func (p *stepSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if !span.Parent().IsValid() {
		return
	}
	if attributeValue(span.Attributes(), telemetry.StepSkippedKey).AsBool() {
		p.observer.update(span.Name(), stepSkipped, attributeValue(span.Attributes(), telemetry.StepReasonKey).AsString())
		return
	}
	status := span.Status()
	if status.Code == codes.Error {
		p.observer.update(span.Name(), stepFailed, status.Description)
		return
	}
	p.observer.update(span.Name(), stepDone, "")
}

func (p *stepSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *stepSpanProcessor) ForceFlush(context.Context) error { return nil }

func attributeValue(attrs []attribute.KeyValue, key string) attribute.Value {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value
		}
	}
	return attribute.Value{}
}
