package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"polybot/pkg/entity"
	"polybot/pkg/logger"
	"polybot/pkg/session"
)

func (d *Dispatcher) registerBuiltins() {
	d.Register("echo", 0, d.handleEcho)
	d.Register("download", 0, d.handleDownload)
	d.Register("test", 0, d.handleTest)
	d.Register("help", 0, d.handleHelp)
}

func (d *Dispatcher) handleEcho(_ context.Context, msg *entity.Message, _ []string) (string, error) {
	return msg.Text, nil
}

// handleDownload persists the message's media attachments, one file per
// attachment, overwriting on name collision. Without attachments it
// enrolls the sender so their next media message is treated as the
// download.
func (d *Dispatcher) handleDownload(ctx context.Context, msg *entity.Message, _ []string) (string, error) {
	if len(msg.Attachments) == 0 {
		if msg.From == nil || d.awaiting == nil {
			return "Nothing to download.", nil
		}
		d.awaiting.Mark(session.Key(msg.From.Platform, msg.From.ID))
		return "Send me the media you want downloaded.", nil
	}

	dir := d.downloadDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	saved := 0
	for _, att := range msg.Attachments {
		bin, ok := att.(entity.Binary)
		if !ok {
			logger.WarnCF("dispatch", "Skipping non-binary attachment", map[string]interface{}{
				logger.FieldNative: fmt.Sprintf("%T", att),
			})
			continue
		}
		data, err := bin.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to fetch attachment %d: %w", att.EntityID(), err)
		}
		name := filepath.Base(bin.Info().FileName)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "attachment-" + uuid.NewString()
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		logger.InfoCF("dispatch", "Attachment saved", map[string]interface{}{
			"path": path,
			"size": len(data),
		})
		saved++
	}
	if saved == 0 {
		return "No downloadable media in that message.", nil
	}
	return fmt.Sprintf("Saved %d file(s).", saved), nil
}

// handleTest runs the caller-supplied self-test and renders its report
// as sorted key/value lines.
func (d *Dispatcher) handleTest(ctx context.Context, _ *entity.Message, _ []string) (string, error) {
	if d.selfTest == nil {
		return "No self-test configured.", nil
	}
	report, err := d.selfTest(ctx)
	if err != nil {
		return "", fmt.Errorf("self-test failed: %w", err)
	}
	keys := make([]string, 0, len(report))
	for k := range report {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, report[k])
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (d *Dispatcher) handleHelp(_ context.Context, _ *entity.Message, _ []string) (string, error) {
	names := d.Commands()
	sort.Strings(names)
	return "Available commands: " + commandPrefix + strings.Join(names, ", "+commandPrefix), nil
}
