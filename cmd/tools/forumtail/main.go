package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nddb-lms/lms-admin/backend/internal/config"
	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/service/auth"
	discussionService "github.com/nddb-lms/lms-admin/backend/internal/service/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/service/session"
)

// forumtail logs in as an admin and follows one course discussion from the
// terminal, optionally posting a message first.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] failed to load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	email := flag.String("email", os.Getenv("LMS_ADMIN_EMAIL"), "admin email")
	password := flag.String("password", os.Getenv("LMS_ADMIN_PASSWORD"), "admin password")
	courseID := flag.String("course", "", "course id to follow")
	message := flag.String("send", "", "post this message once the history is loaded")
	duration := flag.Duration("for", 0, "stop after this long (0 runs until interrupted)")
	flag.Parse()

	if *courseID == "" || *email == "" || *password == "" {
		flag.Usage()
		log.Fatal("-course, -email and -password are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	sessions := session.NewManager(session.NewMemoryStore())
	sessions.Restore(ctx)

	res, err := auth.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout).Login(ctx, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	if err := sessions.Login(ctx, &res.User, res.Token); err != nil {
		log.Fatalf("session rejected: %v", err)
	}
	log.Printf("logged in as %s (%s)", res.User.DisplayName(), res.User.Role)

	client := discussionService.NewClient(cfg.API.ChatBaseURL, cfg.API.RequestTimeout, sessions)
	poller := discussionService.NewPoller(*courseID, client, discussionService.Options{
		Interval:       cfg.Discussion.PollInterval,
		RequestTimeout: cfg.API.RequestTimeout,
		ReconcileDelay: cfg.Discussion.ReconcileDelay,
		Notifier:       discussionService.LogChime{Enabled: cfg.Discussion.NotificationsChime},
	})
	events, cancel := poller.Subscribe()
	defer cancel()

	poller.Start(ctx)
	defer poller.Stop()

	if *message != "" {
		go func() {
			select {
			case <-poller.Loaded():
			case <-ctx.Done():
				return
			}
			user, _ := sessions.CurrentUser()
			if _, err := poller.Send(ctx, &user, *message); err != nil {
				log.Printf("send failed: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			printEvent(ev)
		}
	}
}

func printEvent(ev discussion.Event) {
	switch ev.Type {
	case discussion.EventSnapshot:
		fmt.Printf("--- %s: %d messages ---\n", ev.CourseID, len(ev.Messages))
		for _, m := range ev.Messages {
			printMessage(m)
		}
	case discussion.EventAppended, discussion.EventConfirmed:
		for _, m := range ev.Messages {
			printMessage(m)
		}
	case discussion.EventDiscarded:
		fmt.Printf("! %s was not delivered\n", ev.TempID)
	}
}

func printMessage(m discussion.Message) {
	ts := m.Timestamp
	if t, ok := m.Time(); ok {
		ts = t.Local().Format(time.Kitchen)
	}
	name := m.SenderName
	if name == "" {
		name = string(m.SenderRole)
	}
	marker := ""
	if m.Pending {
		marker = " (sending)"
	}
	fmt.Printf("[%s] %s: %s%s\n", ts, name, m.Body, marker)
}
