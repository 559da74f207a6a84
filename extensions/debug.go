package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"

	"github.com/requery-go/requery"
)

// DebugExtension logs the propagation graph when a settlement fails.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelError)
//	ext := extensions.NewDebugExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewDebugExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewDebugExtension(extensions.NewSilentHandler())
//
// The extension logs at ERROR level for every failed settlement.
type DebugExtension struct {
	requery.BaseExtension
	client *requery.Client
	logger *slog.Logger
}

// NewDebugExtension creates a new debug extension.
// logHandler: slog.Handler for logging (use HumanHandler for formatted output, or any other slog.Handler)
func NewDebugExtension(logHandler slog.Handler) *DebugExtension {
	return &DebugExtension{
		BaseExtension: requery.NewBaseExtension("debug"),
		logger:        slog.New(logHandler),
	}
}

func (e *DebugExtension) Init(c *requery.Client) error {
	e.client = c
	return nil
}

// OnSettle logs the propagation graph when a settlement fails.
func (e *DebugExtension) OnSettle(key string, snap requery.Snapshot) {
	if snap.Err == nil {
		return
	}
	e.logger.Error("Query Settlement Error",
		"key", key,
		"error", snap.Err.Error(),
		"error_count", snap.ErrorCount,
		"stale_data", snap.HasData,
		"propagation_graph", PropagationTree(e.client),
	)
}

// PropagationTree renders the client's declared propagation edges as ASCII
// trees, one per source key, sorted by source.
func PropagationTree(c *requery.Client) string {
	graph := c.PropagationGraph()
	if len(graph) == 0 {
		return "\n(empty - no propagation edges declared)"
	}

	sources := make([]string, 0, len(graph))
	for source := range graph {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	var sb strings.Builder
	sb.WriteString("\n")
	for _, source := range sources {
		t := tree.NewTree(tree.NodeString(source))
		for _, link := range graph[source] {
			t.AddChild(tree.NodeString(fmt.Sprintf("%s %s", link.Kind, link.Target)))
		}
		sb.WriteString(fmt.Sprint(t))
		sb.WriteString("\n")
	}
	return sb.String()
}

// SilentHandler is a slog.Handler that discards all log output
// Useful for testing when you don't want log output
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler
func NewSilentHandler() *SilentHandler {
	return &SilentHandler{}
}

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return false
}

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error {
	return nil
}

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *SilentHandler) WithGroup(name string) slog.Handler {
	return h
}

// HumanHandler is a slog.Handler that formats logs for human readability
// with proper line breaks, giving the propagation graph its own block
type HumanHandler struct {
	writer io.Writer
	level  slog.Level
}

// NewHumanHandler creates a new human-readable log handler
func NewHumanHandler(writer io.Writer, level slog.Level) *HumanHandler {
	return &HumanHandler{
		writer: writer,
		level:  level,
	}
}

func (h *HumanHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HumanHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Message == "Query Settlement Error" {
		return h.handleSettlementError(record)
	}

	if _, err := fmt.Fprintf(h.writer, "[%s] %s\n", record.Level, record.Message); err != nil {
		return err
	}
	var writeErr error
	record.Attrs(func(a slog.Attr) bool {
		if _, err := fmt.Fprintf(h.writer, "  %s: %v\n", a.Key, a.Value); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	return writeErr
}

func (h *HumanHandler) handleSettlementError(record slog.Record) error {
	var key, errorMsg, graph string
	var errorCount, staleData slog.Value

	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "key":
			key = a.Value.String()
		case "error":
			errorMsg = a.Value.String()
		case "error_count":
			errorCount = a.Value
		case "stale_data":
			staleData = a.Value
		case "propagation_graph":
			graph = a.Value.String()
		}
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer, "[Debug] Query Settlement Error"); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nFailed Query: %s\n", key); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Error: %s\n", errorMsg); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Error Count: %v\n", errorCount); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "Stale Data Visible: %v\n", staleData); return err },
		func() error { _, err := fmt.Fprintf(h.writer, "\nPropagation Graph:%s", graph); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	}

	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}

	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *HumanHandler) WithGroup(name string) slog.Handler {
	return h
}
