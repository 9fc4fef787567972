package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/syncer"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const usageDatetime = "YYYY-MM-DD HH:MM"

func actorOf(req *router.Request) Actor {
	a := Actor{UserID: req.FromID, Username: req.Username, ChatID: req.Chat.ChatID, ChatName: req.ChatTitle}
	if m := req.Update.Message; m != nil {
		a.ChatType = m.ChatType
	}
	return a
}

// registerCommands binds the chat commands to svc.
func registerCommands(r *router.Router, svc *Service) error {
	fail := func(ctx context.Context, req *router.Request, err error) error {
		_ = req.ReplyPlain(ctx, UserMessage(err))
		return err
	}
	usage := func(ctx context.Context, req *router.Request, u string) error {
		return req.Reply(ctx, "usage: "+tgui.Code("/"+req.Command+" "+u).String())
	}

	return r.Register(
		router.Command{
			Name:        "start",
			Description: "subscribe this chat to reminders",
			Handle: func(ctx context.Context, req *router.Request) error {
				added, err := svc.Subscribe(ctx, actorOf(req))
				if err != nil {
					return fail(ctx, req, err)
				}
				head := "this chat already receives reminders."
				if added {
					head = "this chat will now receive reminders."
				}
				return req.Reply(ctx, tgui.Esc(head).String()+"\n\n"+r.HelpText(r.IsAdmin(req.FromID)))
			},
		},
		router.Command{
			Name:        "help",
			Description: "list commands",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, r.HelpText(r.IsAdmin(req.FromID)))
			},
		},
		router.Command{
			Name:        "remind",
			Usage:       usageDatetime + " text",
			Description: "one-off reminder",
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 3 {
					return usage(ctx, req, usageDatetime+" text")
				}
				rem, err := svc.CreateOnce(ctx, actorOf(req), req.Args[0]+" "+req.Args[1], req.Tail(2))
				if err != nil {
					return fail(ctx, req, err)
				}
				return req.Reply(ctx, createdText(rem))
			},
		},
		router.Command{
			Name:        "daily",
			Usage:       "HH:MM text",
			Description: "reminder every day",
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 2 {
					return usage(ctx, req, "HH:MM text")
				}
				rem, err := svc.CreateDaily(ctx, actorOf(req), req.Args[0], req.Tail(1))
				if err != nil {
					return fail(ctx, req, err)
				}
				return req.Reply(ctx, createdText(rem))
			},
		},
		router.Command{
			Name:        "weekly",
			Usage:       "day HH:MM text",
			Description: "reminder every week",
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 3 {
					return usage(ctx, req, "monday HH:MM text")
				}
				rem, err := svc.CreateWeekly(ctx, actorOf(req), req.Args[0], req.Args[1], req.Tail(2))
				if err != nil {
					return fail(ctx, req, err)
				}
				return req.Reply(ctx, createdText(rem))
			},
		},
		router.Command{
			Name:        "list",
			Description: "show all reminders",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, listText(svc.List()))
			},
		},
		router.Command{
			Name:        "del",
			Aliases:     []string{"delete"},
			Usage:       "id",
			Description: "delete a reminder",
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					return usage(ctx, req, "id")
				}
				rem, err := svc.Delete(ctx, actorOf(req), req.Args[0])
				if err != nil {
					return fail(ctx, req, err)
				}
				return req.Reply(ctx, "deleted "+reminderLine(rem))
			},
		},
		router.Command{
			Name:        "clear",
			Description: "delete every reminder",
			Access:      router.AccessAdminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				replied := make(chan struct{})
				defer close(replied)
				rep, err := svc.ClearAll(ctx, actorOf(req), func(final ClearReport) {
					<-replied
					followUp(req, clearText(final))
				})
				if err != nil {
					return fail(ctx, req, err)
				}
				return req.ReplyPlain(ctx, clearText(rep))
			},
		},
		router.Command{
			Name:        "restore",
			Description: "reload reminders from backup",
			Access:      router.AccessAdminOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				replied := make(chan struct{})
				defer close(replied)
				err := svc.Restore(ctx, actorOf(req), func(rep syncer.RestoreReport, err error) {
					<-replied
					if err != nil {
						followUp(req, "restore failed: "+UserMessage(err))
						return
					}
					followUp(req, restoreText(rep))
				})
				if err != nil {
					return fail(ctx, req, err)
				}
				return req.ReplyPlain(ctx, "restore started. the result follows when the backup answers.")
			},
		},
		router.Command{
			Name:        "next",
			Description: "show the next reminder to fire",
			Handle: func(ctx context.Context, req *router.Request) error {
				now := svc.conv.Now()
				up, ok := svc.Next(now)
				if !ok {
					return req.ReplyPlain(ctx, "nothing scheduled")
				}
				return req.Reply(ctx, nextText(svc, up, now))
			},
		},
		router.Command{
			Name:        "status",
			Description: "bot status",
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, statusText(svc, svc.Status()))
			},
		},
	)
}

func reminderLine(r reminder.Reminder) string {
	return tgui.B("#"+r.ID).String() + " " + tgui.Code(r.Describe()).String() + " " + tgui.Esc(tgui.TruncRunes(r.Text, 80)).String()
}

func createdText(r reminder.Reminder) string {
	return "saved " + reminderLine(r)
}

func listText(list []reminder.Reminder) string {
	if len(list) == 0 {
		return "no reminders"
	}
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, tgui.B(fmt.Sprintf("%d reminders", len(list))).String())
	for _, r := range list {
		lines = append(lines, reminderLine(r))
	}
	return strings.Join(lines, "\n")
}

// followUpTimeout bounds a reply sent after the command itself returned.
const followUpTimeout = 30 * time.Second

// followUp replies after the handler returned; the request context is
// gone by then.
func followUp(req *router.Request, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
	defer cancel()
	if err := req.ReplyPlain(ctx, text); err != nil {
		req.Logger.Warn("follow-up reply failed", logx.String("cmd", req.Command), logx.Err(err))
	}
}

func restoreText(rep syncer.RestoreReport) string {
	p := rep.Pull
	msg := fmt.Sprintf("restored %d reminders (rows %d, deleted %d, duplicates %d, invalid %d). armed %d, past %d.",
		len(p.Reminders), p.Fetched, p.Deleted, p.Duplicates, p.Invalid, rep.Rearm.Armed, rep.Rearm.SkippedPast)
	if !rep.Replaced {
		msg = "backup has no active reminders; local reminders kept."
	}
	if rep.SubscribersErr != nil {
		msg += "\nsubscribers: " + UserMessage(rep.SubscribersErr)
	} else if rep.Subscribers.Written {
		msg += fmt.Sprintf("\nsubscribers: +%d -%d", len(rep.Subscribers.Added), len(rep.Subscribers.Removed))
	}
	return msg
}

func clearText(rep ClearReport) string {
	msg := fmt.Sprintf("removed %d reminders.", rep.Removed)
	switch {
	case rep.Removed == 0:
	case rep.BackupErr != nil:
		msg += " backup cleanup: " + UserMessage(rep.BackupErr)
	case rep.Queued && rep.Backup.Total == 0:
		msg += " backup cleanup queued; the result follows."
	default:
		b := rep.Backup
		msg += fmt.Sprintf(" backup: %d marked deleted, %d already gone, %d failed.", b.Deleted, b.NotFound, b.Failed)
	}
	return msg
}

func nextText(svc *Service, up reminder.Upcoming, now time.Time) string {
	in := up.At.Sub(now).Round(time.Minute)
	return "next: " + reminderLine(up.Reminder) + "\n" +
		tgui.I(svc.conv.FormatLocal(up.At)+" "+svc.conv.ZoneName()+" (in "+in.String()+")").String()
}

func statusText(svc *Service, st Status) string {
	backupState := "off"
	if st.BackupReady {
		backupState = "ready"
	} else if st.Backup != "none" {
		backupState = "unavailable"
	}
	lines := []string{
		tgui.B("status").String(),
		fmt.Sprintf("time: %s %s", svc.conv.FormatLocal(st.Now), tgui.Esc(st.Zone)),
		fmt.Sprintf("reminders: %d, timers: %d, subscribers: %d", st.Reminders, st.Timers, st.Subscribers),
		fmt.Sprintf("backup: %s (%s)", tgui.Esc(st.Backup), backupState),
		fmt.Sprintf("queue: %d waiting, %d running, %d done, %d failed", st.QueueLen, st.InFlight, st.Completed, st.Failed),
	}
	if st.HasLastFailure {
		f := st.LastFailure
		reason, _, _ := strings.Cut(f.Err, "\n")
		lines = append(lines, fmt.Sprintf("last failure: %s at %s: %s",
			tgui.Esc(f.Name), svc.conv.FormatLocal(f.At), tgui.Esc(tgui.TruncRunes(reason, 120))))
	}
	if len(st.Jobs) > 0 {
		lines = append(lines, "jobs: "+tgui.Esc(strings.Join(st.Jobs, ", ")).String())
	}
	if st.HasNext {
		lines = append(lines, "next: #"+tgui.Esc(st.Next.Reminder.ID).String()+" at "+svc.conv.FormatLocal(st.Next.At))
	}
	return strings.Join(lines, "\n")
}
