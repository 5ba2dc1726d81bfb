package extensions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
	"github.com/pumped-fn/statectx"
)

// GraphDebugExtension logs the store dependency graph when a computation
// fails or a dependency cycle is detected.
//
// Usage:
//
//	// Human-readable formatted output (with line breaks)
//	handler := extensions.NewHumanHandler(os.Stdout, slog.LevelWarn)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Structured JSON logging (compact, machine-readable)
//	handler := slog.NewJSONHandler(os.Stdout, nil)
//	ext := extensions.NewGraphDebugExtension(handler)
//
//	// Silent (for testing)
//	ext := extensions.NewGraphDebugExtension(extensions.NewSilentHandler())
//
// Computation errors are logged at ERROR, cycles at WARN.
type GraphDebugExtension struct {
	statectx.BaseExtension

	// Track stores as their computations run
	mounted map[string]bool
	failed  map[string]error
	logger  *slog.Logger
}

// NewGraphDebugExtension creates a new graph debug extension.
// logHandler: slog.Handler for logging (use HumanHandler for formatted output, or any other slog.Handler)
func NewGraphDebugExtension(logHandler slog.Handler) *GraphDebugExtension {
	return &GraphDebugExtension{
		BaseExtension: statectx.NewBaseExtension("graph-debug"),
		mounted:       make(map[string]bool),
		failed:        make(map[string]error),
		logger:        slog.New(logHandler),
	}
}

// Wrap tracks operations for debugging
func (e *GraphDebugExtension) Wrap(ctx context.Context, next func(context.Context) error, op *statectx.Operation) error {
	err := next(ctx)

	switch {
	case op.Kind == statectx.OpEvict:
		delete(e.mounted, op.Key)
	case err != nil:
		e.failed[op.Key] = err
	default:
		e.mounted[op.Key] = true
		delete(e.failed, op.Key)
	}

	return err
}

// OnError logs the dependency graph below the failed store
func (e *GraphDebugExtension) OnError(err error, op *statectx.Operation, scope *statectx.Scope) {
	e.logger.Error("Store Computation Error",
		"store", op.Key,
		"error", err.Error(),
		"operation", string(op.Kind),
		"dependency_graph", e.RenderGraph(scope.Tracker().Graph(), op.Key),
	)
}

// OnCycle logs the cycle and the graph below its first store
func (e *GraphDebugExtension) OnCycle(path []string, scope *statectx.Scope) {
	e.logger.Warn("Circular Dependency",
		"path", strings.Join(path, " -> "),
		"dependency_graph", e.RenderGraph(scope.Tracker().Graph(), path[0]),
	)
}

// RenderGraph draws the stores reachable from root as a tree. A store seen
// earlier on the same branch is drawn once more, marked as a cycle, and not
// expanded.
func (e *GraphDebugExtension) RenderGraph(graph map[string][]string, root string) string {
	if len(graph[root]) == 0 {
		return "\n(empty - no dependencies tracked for " + root + ")"
	}

	t := tree.NewTree(tree.NodeString(e.label(root)))
	e.addChildren(t, graph, root, map[string]bool{root: true})
	return "\n" + t.String()
}

func (e *GraphDebugExtension) addChildren(t *tree.Tree, graph map[string][]string, name string, branch map[string]bool) {
	children := append([]string(nil), graph[name]...)
	sort.Strings(children)

	for _, child := range children {
		if branch[child] {
			t.AddChild(tree.NodeString(child + " (cycle)"))
			continue
		}
		sub := t.AddChild(tree.NodeString(e.label(child)))
		branch[child] = true
		e.addChildren(sub, graph, child, branch)
		delete(branch, child)
	}
}

func (e *GraphDebugExtension) label(name string) string {
	if err, failed := e.failed[name]; failed {
		return fmt.Sprintf("%s FAILED: %v", name, err)
	}
	if e.mounted[name] {
		return name + " ✓"
	}
	return name
}

// SilentHandler is a slog.Handler that discards all log output
// Useful for testing when you don't want log output
type SilentHandler struct{}

// NewSilentHandler creates a new silent log handler
func NewSilentHandler() *SilentHandler {
	return &SilentHandler{}
}

func (h *SilentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return false // Never enabled, discards everything
}

func (h *SilentHandler) Handle(ctx context.Context, record slog.Record) error {
	return nil // Do nothing
}

func (h *SilentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h // Return self, no state to modify
}

func (h *SilentHandler) WithGroup(name string) slog.Handler {
	return h // Return self, no state to modify
}

// HumanHandler is a slog.Handler that formats logs for human readability
// with proper line breaks and visual formatting (especially for dependency graphs)
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
	// Special formatting for GraphDebug messages
	switch record.Message {
	case "Store Computation Error":
		return h.handleReport(record, "Store Computation Error", []string{"store", "error", "operation"})
	case "Circular Dependency":
		return h.handleReport(record, "Circular Dependency", []string{"path"})
	}

	// Default formatting for other messages
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

func (h *HumanHandler) handleReport(record slog.Record, title string, keys []string) error {
	values := make(map[string]string)
	record.Attrs(func(a slog.Attr) bool {
		values[a.Key] = a.Value.String()
		return true
	})

	writes := []func() error{
		func() error { _, err := fmt.Fprintln(h.writer); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer, "[GraphDebug] "+title); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	}
	for _, key := range keys {
		key := key
		writes = append(writes, func() error {
			_, err := fmt.Fprintf(h.writer, "%s: %s\n", strings.ToUpper(key[:1])+key[1:], values[key])
			return err
		})
	}
	writes = append(writes,
		func() error { _, err := fmt.Fprintf(h.writer, "\nDependency Graph:%s\n", values["dependency_graph"]); return err },
		func() error { _, err := fmt.Fprintln(h.writer, strings.Repeat("=", 70)); return err },
		func() error { _, err := fmt.Fprintln(h.writer); return err },
	)

	for _, write := range writes {
		if err := write(); err != nil {
			return err
		}
	}

	return nil
}

func (h *HumanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// For simplicity, return self (could create new handler with attrs if needed)
	return h
}

func (h *HumanHandler) WithGroup(name string) slog.Handler {
	// For simplicity, return self (could create new handler with group if needed)
	return h
}
