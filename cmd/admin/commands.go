package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"tastechat/backend/internal/config"
	"tastechat/backend/internal/storage"

	"github.com/spf13/pflag"
)

const usage = `Usage: admin <command> [flags]

Commands:
  purge   --months N            delete messages older than N months (held messages are kept)
  hold    --message ID          exempt a message from retention purge
  release --message ID | --room ID
                                release dispute holds; --room also resolves the room's complaints
  stats                         print stored data counts as JSON`

var errUsage = errors.New("invalid usage")

// messageAdmin is the message store surface the CLI drives.
type messageAdmin interface {
	PurgeOlderThanMonths(ctx context.Context, months int) (int64, error)
	SetDisputeHold(ctx context.Context, messageID string, hold bool) error
	HoldRoom(ctx context.Context, roomID string, hold bool) (int64, error)
}

type app struct {
	messages messageAdmin
	admin    storage.AdminRepository
	out      io.Writer
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	switch args[0] {
	case "purge":
		return a.purge(ctx, args[1:])
	case "hold":
		return a.hold(ctx, args[1:])
	case "release":
		return a.release(ctx, args[1:])
	case "stats":
		return a.stats(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (a *app) purge(ctx context.Context, args []string) error {
	fs := newFlagSet("purge")
	months := fs.Int("months", config.DefaultRetentionMonths, "retention in months")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	n, err := a.messages.PurgeOlderThanMonths(ctx, *months)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Purged %d messages older than %d months.\n", n, *months)
	return nil
}

func (a *app) hold(ctx context.Context, args []string) error {
	fs := newFlagSet("hold")
	messageID := fs.String("message", "", "message id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *messageID == "" {
		return fmt.Errorf("%w: --message is required", errUsage)
	}

	if err := a.messages.SetDisputeHold(ctx, *messageID, true); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Message %s is held.\n", *messageID)
	return nil
}

func (a *app) release(ctx context.Context, args []string) error {
	fs := newFlagSet("release")
	messageID := fs.String("message", "", "message id")
	roomID := fs.String("room", "", "room id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if (*messageID == "") == (*roomID == "") {
		return fmt.Errorf("%w: exactly one of --message or --room is required", errUsage)
	}

	if *messageID != "" {
		if err := a.messages.SetDisputeHold(ctx, *messageID, false); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Message %s is released.\n", *messageID)
		return nil
	}

	n, err := a.messages.HoldRoom(ctx, *roomID, false)
	if err != nil {
		return err
	}
	resolved, err := a.admin.ResolveComplaints(ctx, *roomID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Released %d messages and resolved %d complaints in room %s.\n", n, resolved, *roomID)
	return nil
}

func (a *app) stats(ctx context.Context) error {
	st, err := a.admin.Stats(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}
