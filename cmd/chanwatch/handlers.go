package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/chanwatch/internal/config"
	"github.com/elonfeng/chanwatch/internal/lifecycle"
	"github.com/elonfeng/chanwatch/internal/logging"
	"github.com/elonfeng/chanwatch/internal/queue"
	"github.com/elonfeng/chanwatch/internal/scheduler"
	"github.com/elonfeng/chanwatch/internal/store"
	"github.com/elonfeng/chanwatch/pkg/alert"
	"github.com/elonfeng/chanwatch/pkg/notify"
	"github.com/elonfeng/chanwatch/pkg/platform"
	"github.com/elonfeng/chanwatch/pkg/report"
	"github.com/elonfeng/chanwatch/pkg/server"
	"github.com/elonfeng/chanwatch/pkg/stats"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func buildPlatform(cfg *config.Config) (platform.Client, error) {
	timeout := cfg.Platform.ParseTimeout()
	switch cfg.Platform.Driver {
	case "botapi", "":
		if cfg.Platform.BotToken == "" {
			return nil, errors.New("platform.bot_token is required for the botapi driver")
		}
		bot, err := platform.NewBotAPI(cfg.Platform.BotToken, timeout)
		if err != nil {
			return nil, err
		}
		return bot, nil
	case "preview":
		return platform.NewPreview(cfg.Platform.PreviewURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown platform driver %q", cfg.Platform.Driver)
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// withStore loads config, opens the store and runs fn. Used by the
// short-lived administrative commands.
func withStore(fn func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	return fn(context.Background(), cfg, db)
}

func openQueue(cfg *config.Config, log zerolog.Logger) (*queue.Queue, error) {
	return queue.New(cfg.Queue.Dir, logging.Component(log, "queue"))
}

// findChannel accepts a numeric id, a handle or an invite link.
func findChannel(ctx context.Context, db store.Store, arg string) (*store.Channel, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return db.GetChannel(ctx, id)
	}
	return db.GetChannelByHandle(ctx, platform.ParseIdentifier(arg).Handle)
}

func runWorker(port int, noServer bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)

	q, err := openQueue(cfg, log)
	if err != nil {
		return err
	}

	lock := scheduler.NewFileLock(cfg.Queue.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire worker lock: %w", err)
	}
	if !ok {
		if pid := lock.Holder(); pid != 0 {
			return fmt.Errorf("another worker (pid %d) is running on %s", pid, cfg.Queue.Dir)
		}
		return fmt.Errorf("another worker is running on %s", cfg.Queue.Dir)
	}
	defer lock.Unlock()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	client, err := buildPlatform(cfg)
	if err != nil {
		return fmt.Errorf("platform: %w", err)
	}

	alerts := buildAlertManager(cfg)
	if alerts.HasNotifiers() {
		log.Info().Msg("cycle summary alerts enabled")
	}

	sched := scheduler.New(
		db, q,
		lifecycle.New(db, client, cfg.Schedule.ParseJoinPause(), logging.Component(log, "lifecycle")),
		stats.NewCollector(db, client, logging.Component(log, "collector")),
		stats.NewDiffEngine(db),
		notify.NewEmitter(cfg.Notification.Path, alerts, logging.Component(log, "notify")),
		scheduler.Config{
			PollInterval:  cfg.Schedule.ParsePollInterval(),
			CheckInterval: cfg.Schedule.ParseCheckInterval(),
			ChannelPause:  cfg.Schedule.ParseChannelPause(),
		},
		logging.Component(log, "scheduler"),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Queue.Watch {
		wake := make(chan struct{}, 1)
		sched.SetWake(wake)
		g.Go(func() error {
			if err := q.Watch(ctx, wake); err != nil {
				log.Warn().Err(err).Msg("queue watcher unavailable, polling only")
			}
			return nil
		})
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})

	if !noServer && (cfg.Server.Enabled || port != 0) {
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := server.New(db, q, cfg.Notification.Path, func() any { return sched.Status() }, port, logging.Component(log, "server"))
		g.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("shut down")
		return nil
	}
	return err
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := buildLogger(cfg)

	if port == 0 {
		port = cfg.Server.Port
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	q, err := openQueue(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(db, q, cfg.Notification.Path, nil, port, logging.Component(log, "server"))
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runCheck(requestedBy int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	q, err := openQueue(cfg, buildLogger(cfg))
	if err != nil {
		return err
	}
	if err := q.PostCheck(requestedBy); err != nil {
		return err
	}
	fmt.Println("check requested; the worker picks it up on its next poll")
	return nil
}

func runAdd(raw, category, title string, addedBy int64) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		parsed := platform.ParseIdentifier(raw)
		if !parsed.Valid() {
			return fmt.Errorf("invalid channel %q: use a handle of at least 5 letters, digits or _, or an invite link", raw)
		}

		ch, reactivated, err := db.AddChannel(ctx, store.NewChannel{
			Handle:      parsed.Handle,
			Title:       title,
			InviteToken: parsed.InviteToken,
			Category:    category,
			AddedBy:     addedBy,
		})
		if errors.Is(err, store.ErrChannelExists) {
			return fmt.Errorf("%s is already tracked", parsed.Handle)
		}
		if err != nil {
			return err
		}

		q, err := openQueue(cfg, buildLogger(cfg))
		if err != nil {
			return err
		}
		if err := q.PostJoin(queue.JoinRequest{ChannelID: ch.ID, Identifier: raw}); err != nil {
			return err
		}

		verb := "added"
		if reactivated {
			verb = "reactivated"
		}
		fmt.Printf("%s channel %d (%s); join requested\n", verb, ch.ID, ch.Handle)
		return nil
	})
}

func runRemove(arg string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		ch, err := findChannel(ctx, db, arg)
		if err != nil {
			return err
		}
		if !ch.IsActive {
			return fmt.Errorf("%s is not tracked", ch.Handle)
		}
		if err := db.RemoveChannel(ctx, ch.ID); err != nil {
			return err
		}

		q, err := openQueue(cfg, buildLogger(cfg))
		if err != nil {
			return err
		}
		if err := q.PostLeave(queue.LeaveRequest{ChannelID: ch.ID, Handle: ch.Handle}); err != nil {
			return err
		}
		fmt.Printf("removed channel %d (%s); leave requested\n", ch.ID, ch.Handle)
		return nil
	})
}

func runList(all bool, category string, jsonOutput bool) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		opts := store.ChannelListOpts{Category: category}
		if !all {
			active := true
			opts.Active = &active
		}
		channels, err := db.ListChannels(ctx, opts)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(channels)
		}

		if len(channels) == 0 {
			fmt.Println("no channels tracked (add one with: chanwatch add @handle)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHANDLE\tTITLE\tCATEGORY\tACTIVE\tMEMBER\tADDED")
		for _, ch := range channels {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%t\t%s\n",
				ch.ID, ch.Handle, ch.Title, ch.CategoryName(),
				ch.IsActive, ch.IsMember, humanize.Time(ch.AddedAt))
		}
		return w.Flush()
	})
}

func runStats(category, format string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		rep, err := report.NewBuilder(db).Build(ctx, category)
		if err != nil {
			return err
		}
		switch format {
		case "json":
			return report.WriteJSON(os.Stdout, rep)
		case "csv":
			return report.WriteCSV(os.Stdout, rep)
		case "text", "":
			return report.WriteText(os.Stdout, rep)
		default:
			return fmt.Errorf("unknown format %q", format)
		}
	})
}

func runSamples(arg string, limit int, jsonOutput bool) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		ch, err := findChannel(ctx, db, arg)
		if err != nil {
			return err
		}
		samples, err := db.ListSamples(ctx, ch.ID, limit)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(samples)
		}

		if len(samples) == 0 {
			fmt.Printf("no samples for %s yet\n", ch.Handle)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RECORDED\tMEMBERS\tCHANGE\tVIEWS\tPOSTS")
		for _, s := range samples {
			fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%d\n",
				s.RecordedAt.Local().Format(time.DateTime),
				humanize.Comma(int64(s.MemberCount)), s.MemberChange,
				s.ViewsCount, s.PostsCount)
		}
		return w.Flush()
	})
}

func runReset(arg string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		diff := stats.NewDiffEngine(db)
		if arg == "all" {
			if err := diff.ResetAll(ctx); err != nil {
				return err
			}
			fmt.Println("reset the latest change of every channel")
			return nil
		}

		ch, err := findChannel(ctx, db, arg)
		if err != nil {
			return err
		}
		if err := diff.ResetDeltas(ctx, ch.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%s has no samples yet", ch.Handle)
			}
			return err
		}
		fmt.Printf("reset the latest change of %s\n", ch.Handle)
		return nil
	})
}

func runCategoryAdd(name string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		created, err := db.AddCategory(ctx, name)
		if err != nil {
			return err
		}
		if !created {
			fmt.Printf("category %q already exists\n", name)
			return nil
		}
		fmt.Printf("created category %q\n", name)
		return nil
	})
}

func runCategoryDelete(name string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		n, err := db.CountChannelsInCategory(ctx, name)
		if err != nil {
			return err
		}
		if err := db.DeleteCategory(ctx, name); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no category %q", name)
			}
			return err
		}
		fmt.Printf("deleted category %q (%d channels uncategorized)\n", name, n)
		return nil
	})
}

func runCategorySet(arg, name string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		ch, err := findChannel(ctx, db, arg)
		if err != nil {
			return err
		}
		if err := db.SetCategory(ctx, ch.ID, name); err != nil {
			return err
		}
		fmt.Printf("%s filed under %q\n", ch.Handle, name)
		return nil
	})
}

func runCategoryList() error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		names, err := db.ListCategories(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("no categories")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CATEGORY\tACTIVE CHANNELS")
		for _, name := range names {
			n, err := db.CountChannelsInCategory(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\n", name, n)
		}
		return w.Flush()
	})
}

func runCategorySync() error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		n, err := db.SyncCategories(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("added %d missing categories\n", n)
		return nil
	})
}

func runCategoryCleanup() error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		n, err := db.CleanupCategories(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d empty categories\n", n)
		return nil
	})
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

func runAdminAdd(arg, username string) error {
	userID, err := parseUserID(arg)
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		added, err := db.AddAdmin(ctx, userID, username)
		if err != nil {
			return err
		}
		if !added {
			fmt.Printf("%d is already an operator\n", userID)
			return nil
		}
		fmt.Printf("added operator %d\n", userID)
		return nil
	})
}

func runAdminCheck(arg string) error {
	userID, err := parseUserID(arg)
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		ok, err := db.IsAdmin(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%d is not an operator", userID)
		}
		fmt.Printf("%d is an operator\n", userID)
		return nil
	})
}

func runAdminList() error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) error {
		admins, err := db.ListAdmins(ctx)
		if err != nil {
			return err
		}
		if len(admins) == 0 {
			fmt.Println("no operators")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER ID\tUSERNAME\tADDED")
		for _, a := range admins {
			fmt.Fprintf(w, "%d\t%s\t%s\n", a.UserID, a.Username, humanize.Time(a.AddedAt))
		}
		return w.Flush()
	})
}

func runNotification(consume bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	read := notify.Read
	if consume {
		read = notify.Consume
	}
	rec, err := read(cfg.Notification.Path)
	if errors.Is(err, notify.ErrNoRecord) {
		fmt.Println("no completion record waiting")
		return nil
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
