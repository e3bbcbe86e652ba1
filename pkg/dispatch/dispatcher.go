package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"polybot/pkg/entity"
	"polybot/pkg/logger"
	"polybot/pkg/session"
)

const commandPrefix = "/"

// HandlerFunc is one registered command. A non-empty result is sent
// back through the message's answer capability.
type HandlerFunc func(ctx context.Context, msg *entity.Message, args []string) (string, error)

// SelfTest is the caller-supplied routine behind the /test command. It
// returns a key/value report.
type SelfTest func(ctx context.Context) (map[string]string, error)

// DispatchError covers the recoverable command-level failures: unknown
// command and insufficient arguments. It always produces a direct
// user-visible explanation and never escalates.
type DispatchError struct {
	Command string
	Reason  string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

type handlerEntry struct {
	fn      HandlerFunc
	minArgs int
}

// Dispatcher routes inbound messages to registered command handlers.
// The registry is explicit: command name to handler plus minimum
// positional arity, populated by Register calls at startup. Nothing is
// discovered by reflection.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry

	awaiting    *session.Store
	downloadDir string
	selfTest    SelfTest
}

// Options configures the built-in handlers.
type Options struct {
	// DownloadDir is where /download persists attachment payloads.
	// Empty means the process working directory.
	DownloadDir string
	// SelfTest backs the /test command; nil disables it gracefully.
	SelfTest SelfTest
}

func New(awaiting *session.Store, opts Options) *Dispatcher {
	d := &Dispatcher{
		handlers:    make(map[string]handlerEntry),
		awaiting:    awaiting,
		downloadDir: opts.DownloadDir,
		selfTest:    opts.SelfTest,
	}
	d.registerBuiltins()
	return d
}

// Register binds a command name to a handler. minArgs is the number of
// positional arguments the handler requires beyond the message itself.
func (d *Dispatcher) Register(name string, minArgs int, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = handlerEntry{fn: fn, minArgs: minArgs}
}

// Commands returns the registered command names, unordered.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Handle is the sole per-message entry point. It never panics and
// never returns an error: every failure ends as a log line plus at
// most one reply to the sender.
func (d *Dispatcher) Handle(ctx context.Context, msg *entity.Message) {
	if msg == nil {
		return
	}

	text := msg.Text

	// A sender who asked to download with no attachments is enrolled in
	// the awaiting set; their next message carrying attachments becomes
	// the download itself, whatever its text. The enrollment is
	// consumed atomically so concurrent messages cannot both claim it.
	if len(msg.Attachments) > 0 && msg.From != nil && d.awaiting != nil {
		if d.awaiting.Consume(session.Key(msg.From.Platform, msg.From.ID)) {
			text = commandPrefix + "download"
		}
	}

	if !strings.HasPrefix(text, commandPrefix) {
		logger.DebugCF("dispatch", "Ignoring non-command message", map[string]interface{}{
			logger.FieldSenderID: senderID(msg),
		})
		return
	}

	fields := strings.Fields(text[len(commandPrefix):])
	if len(fields) == 0 {
		return
	}
	name, args := fields[0], fields[1:]

	d.mu.RLock()
	entry, ok := d.handlers[name]
	d.mu.RUnlock()

	if !ok {
		logger.WarnCF("dispatch", "Unknown command", map[string]interface{}{
			logger.FieldCommand:  name,
			logger.FieldSenderID: senderID(msg),
		})
		d.respond(ctx, msg, fmt.Sprintf("Unknown command: %s", name))
		return
	}

	if len(args) < entry.minArgs {
		derr := &DispatchError{
			Command: name,
			Reason:  fmt.Sprintf("expected at least %d argument(s), got %d", entry.minArgs, len(args)),
		}
		logger.WarnCF("dispatch", "Insufficient arguments", map[string]interface{}{
			logger.FieldCommand: name,
			logger.FieldError:   derr.Error(),
		})
		d.respond(ctx, msg, derr.Error())
		return
	}

	result, err := d.invoke(ctx, entry.fn, msg, args)
	if err != nil {
		logger.ErrorCF("dispatch", "Command handler failed", map[string]interface{}{
			logger.FieldCommand: name,
			logger.FieldError:   err.Error(),
		})
		d.respond(ctx, msg, "Something went wrong while handling your command.")
		return
	}
	if result != "" {
		d.respond(ctx, msg, result)
	}
}

// invoke runs a handler with panic containment; a panicking handler is
// indistinguishable from one returning an error.
func (d *Dispatcher) invoke(ctx context.Context, fn HandlerFunc, msg *entity.Message, args []string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, msg, args)
}

func (d *Dispatcher) respond(ctx context.Context, msg *entity.Message, text string) {
	if err := msg.Answer(ctx, text); err != nil {
		logger.ErrorCF("dispatch", "Failed to send response", map[string]interface{}{
			logger.FieldSenderID: senderID(msg),
			logger.FieldError:    err.Error(),
		})
	}
}

func senderID(msg *entity.Message) int64 {
	if msg.From == nil {
		return 0
	}
	return msg.From.ID
}
