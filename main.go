package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const usage = `Usage: chelper <command> [args]

Commands:
  guest                       log this device in as a guest
  login <account> <password>  log in with a registered account
  logout                      forget the stored account
  whoami                      show the active session
  libraries                   list private libraries
  quota                       show private library quota
  public [search]             search the public market
  like <id>                   toggle a like on a public library
  upload <file>               upload a private library
  release <id>                publish a private library (CAPTCHA required)
  sync <id>                   sync a private library to its public copy
  sync-all [workers]          sync every private library
  delete <id>                 delete a private library`

var appLog *log.Logger

func main() {
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}

	logFile := setupLogging()
	defer logFile.Close()

	_ = godotenv.Load()

	app, err := NewApp(AppOptions{
		RateLimit:   GetRequestRateLimit(),
		SessionFile: GetSessionFile(),
		Surfaces:    func() (WebSurface, error) { return nil, ErrSurfaceUnavailable },
		Logger:      &stdLogger{logger: appLog},
	})
	if err != nil {
		appLog.Fatalf("Failed to initialise: %v", err)
	}
	defer app.Close()
	app.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, app, os.Args[1], os.Args[2:]); err != nil {
		appLog.Printf("ERROR: %v", err)
		app.Close()
		os.Exit(1)
	}
}

func setupLogging() *os.File {
	logFile, err := os.OpenFile("chelper.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	appLog = log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)
	return logFile
}

func run(ctx context.Context, app *App, command string, args []string) error {
	switch command {
	case "guest":
		if !app.Guests.EnsureLoggedIn(ctx) {
			return fmt.Errorf("guest login failed")
		}
		if user := app.Guests.User(); user != nil {
			appLog.Printf("Guest session active (user %d)", user.ID)
		} else {
			appLog.Printf("Signed in with the stored account")
		}
		return nil

	case "login":
		if len(args) < 2 {
			return fmt.Errorf("usage: chelper login <account> <password>")
		}
		cred, err := app.Sessions.Login(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("%s", ErrorMessage(err, err.Error()))
		}
		appLog.Printf("Logged in as %s", displayName(cred.User, cred.Account))
		return nil

	case "logout":
		if err := app.Sessions.Logout(); err != nil {
			return err
		}
		app.Guests.Clear()
		appLog.Printf("Logged out")
		return nil

	case "whoami":
		if user := app.Sessions.User(); app.Sessions.IsLoggedIn() {
			appLog.Printf("Account: %s (id %d, admin=%v)", displayName(user, ""), user.ID, user.IsAdmin)
			return nil
		}
		if user := app.Guests.User(); user != nil {
			appLog.Printf("Guest: id %d", user.ID)
			return nil
		}
		appLog.Printf("Not logged in")
		return nil

	case "libraries":
		page, err := app.API.MyLibraries(ctx, 1, 100)
		if err != nil {
			return err
		}
		for _, fn := range page.Functions {
			state := "private"
			if fn.IsPublish {
				state = "published"
			}
			appLog.Printf("%6d  %-30s  %s", fn.ID, fn.Name, state)
		}
		appLog.Printf("%d libraries", page.TotalCount)
		return nil

	case "quota":
		quota, err := app.API.Quota(ctx)
		if err != nil {
			return err
		}
		appLog.Printf("Used %d of %d", quota.Used, quota.Limit)
		return nil

	case "public":
		query := PublicQuery{Page: 1, PerPage: 20, AndroidID: app.Identity.Fingerprint()}
		if len(args) > 0 {
			query.Search = strings.Join(args, " ")
		}
		page, err := app.API.PublicLibraries(ctx, query)
		if err != nil {
			return err
		}
		for _, fn := range page.Functions {
			appLog.Printf("%6d  %-30s  by %-16s  %d likes", fn.ID, fn.Name, fn.Author, fn.LikeCount)
		}
		return nil

	case "like":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		resp, err := app.API.Like(ctx, id, app.Identity.Fingerprint())
		if err != nil {
			return err
		}
		appLog.Printf("%s: %d likes", resp.Action, resp.LikeCount)
		return nil

	case "upload":
		if len(args) < 1 {
			return fmt.Errorf("usage: chelper upload <file>")
		}
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		uuid, err := app.API.UploadLibrary(ctx, string(content))
		if err != nil {
			return err
		}
		appLog.Printf("Uploaded %s", uuid)
		return nil

	case "release":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := app.ReleaseLibrary(ctx, id, NewConsoleSurface(os.Stdout)); err != nil {
			return err
		}
		appLog.Printf("Library %d submitted for review", id)
		return nil

	case "sync":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := app.API.Sync(ctx, id); err != nil {
			return err
		}
		appLog.Printf("Library %d synced", id)
		return nil

	case "sync-all":
		workers := 2
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("workers must be a positive integer")
			}
			workers = n
		}
		start := time.Now()
		synced, err := app.SyncAll(ctx, workers)
		if err != nil {
			return fmt.Errorf("aborted after %d synced: %w", synced, err)
		}
		appLog.Printf("=== Complete: %d libraries synced in %v ===", synced, time.Since(start).Round(time.Millisecond))
		return nil

	case "delete":
		id, err := parseID(args)
		if err != nil {
			return err
		}
		if err := app.API.DeleteLibrary(ctx, id); err != nil {
			return err
		}
		appLog.Printf("Library %d deleted", id)
		return nil
	}

	return fmt.Errorf("unknown command %q\n%s", command, usage)
}

func parseID(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("missing library id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid library id %q", args[0])
	}
	return id, nil
}

func displayName(user *User, fallback string) string {
	switch {
	case user == nil:
		return fallback
	case user.Nickname != "":
		return user.Nickname
	case user.Email != "":
		return user.Email
	}
	return fallback
}
