// Package main runs the James voice assistant from the terminal.
//
// Usage:
//
//	go run ./cmd/james
//
// Environment variables:
//
//	GEMINI_API_KEY - Required
//
// Controls:
//
//	start             - Start a voice conversation
//	stop              - End the conversation (runs analysis)
//	/t <text>         - Ask via text instead of voice
//	/frame <path>     - Send a JPEG frame to the live session
//	/note <text>      - Add knowledge from free-form notes
//	/url <address>    - Add knowledge from a web page
//	/add <cat>|<title>|<content> - Add a knowledge item directly
//	kb                - Show the knowledge base
//	log               - Show the conversation log
//	yes / no          - Answer the latest reminder offer
//	q                 - Quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lmonteiro/james/pkg/analysis"
	"github.com/lmonteiro/james/pkg/audio"
	"github.com/lmonteiro/james/pkg/config"
	"github.com/lmonteiro/james/pkg/gemini"
	"github.com/lmonteiro/james/pkg/knowledge"
	"github.com/lmonteiro/james/pkg/profile"
	"github.com/lmonteiro/james/pkg/session"
	"github.com/lmonteiro/james/pkg/transcript"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	fmt.Println("James is ready. Type 'start' to begin a conversation, 'q' to quit.")
	app.commandLoop(ctx)

	app.engine.Stop()
	// Give teardown and analysis a moment before the process exits.
	deadline := time.Now().Add(cfg.AnalysisTimeout)
	for time.Now().Before(deadline) && app.engine.Phase() != session.PhaseIdle {
		time.Sleep(50 * time.Millisecond)
	}
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *profile.Store
	log      *transcript.Log
	speaker  *audio.Speaker
	engine   *session.Engine
	pipeline *analysis.Pipeline
	client   *gemini.Client
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := profile.OpenStore(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}

	client, err := gemini.NewClient(ctx, gemini.Options{
		APIKey:    cfg.APIKey,
		LiveModel: cfg.LiveModel,
		TextModel: cfg.TextModel,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	speaker, err := audio.NewSpeaker()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	log := transcript.NewLog()
	scheduler := audio.NewScheduler(speaker, audio.NewClock(), logger)
	capture := audio.NewCapture(scheduler, logger)
	pipeline := analysis.NewPipeline(log, log, store, client, logger)

	engine := session.NewEngine(session.Options{
		Connector:       client,
		Capture:         capture,
		Scheduler:       scheduler,
		Profiles:        store,
		Sink:            log,
		Analyzer:        pipeline,
		Logger:          logger,
		AnalysisTimeout: cfg.AnalysisTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		log:      log,
		speaker:  speaker,
		engine:   engine,
		pipeline: pipeline,
		client:   client,
	}, nil
}

func (a *app) close() {
	_ = a.speaker.Close()
	_ = a.store.Close()
}

func (a *app) commandLoop(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case strings.EqualFold(input, "q"):
			return
		case strings.EqualFold(input, "start"):
			if err := a.engine.Start(ctx, a.cfg.TranscriptionEnabled); err != nil {
				fmt.Printf("[ERROR] %v\n", err)
			}
		case strings.EqualFold(input, "stop"):
			a.engine.Stop()
		case strings.EqualFold(input, "kb"):
			a.printKnowledge(ctx)
		case strings.EqualFold(input, "log"):
			a.printLog()
		case strings.EqualFold(input, "yes"), strings.EqualFold(input, "no"):
			a.answerSuggestion(ctx, strings.EqualFold(input, "yes"))
		case strings.HasPrefix(input, "/t "):
			a.textChat(ctx, strings.TrimPrefix(input, "/t "))
		case strings.HasPrefix(input, "/frame "):
			a.sendFrame(strings.TrimSpace(strings.TrimPrefix(input, "/frame ")))
		case strings.HasPrefix(input, "/note "):
			a.ingest(ctx, func(ctx context.Context) error {
				return a.pipeline.IngestText(ctx, strings.TrimPrefix(input, "/note "))
			})
		case strings.HasPrefix(input, "/url "):
			a.ingest(ctx, func(ctx context.Context) error {
				return a.pipeline.IngestURL(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/url ")))
			})
		case strings.HasPrefix(input, "/add "):
			a.addManual(ctx, strings.TrimPrefix(input, "/add "))
		default:
			fmt.Println("[INFO] Commands: start, stop, /t <text>, /frame <path>, /note <text>, /url <address>, /add <cat>|<title>|<content>, kb, log, yes, no, q")
		}
	}
}

func (a *app) textChat(ctx context.Context, prompt string) {
	prof, err := a.store.Current(ctx)
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	sys := session.ComposeSystemInstruction(prof, time.Now(), nil)

	a.log.Append(transcript.New(transcript.RoleUser, prompt))
	reply, err := a.client.GenerateText(ctx, sys, prompt)
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	a.log.Append(transcript.New(transcript.RoleAssistant, reply))
	fmt.Printf("James: %s\n", reply)
}

func (a *app) sendFrame(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("[ERROR] read file: %v\n", err)
		return
	}
	a.engine.SubmitVisualFrame(data)
	fmt.Printf("[SENT] Frame: %s\n", path)
}

func (a *app) ingest(ctx context.Context, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.IngestTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	fmt.Println("[OK] Knowledge updated.")
}

func (a *app) addManual(ctx context.Context, arg string) {
	parts := strings.SplitN(arg, "|", 3)
	if len(parts) != 3 {
		fmt.Println("[INFO] Usage: /add <personal|professional|goals|misc>|<title>|<content>")
		return
	}
	cat := knowledge.Category(strings.TrimSpace(parts[0]))
	valid := false
	for _, c := range knowledge.Categories() {
		if c == cat {
			valid = true
		}
	}
	if !valid {
		fmt.Println("[INFO] Category must be one of: personal, professional, goals, misc")
		return
	}
	err := a.pipeline.AddManual(ctx, cat, strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]))
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	fmt.Println("[OK] Added.")
}

// latestSuggestion returns the most recent message carrying actions.
func latestSuggestion(msgs []transcript.Message) *transcript.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs[i].Actions) > 0 {
			return &msgs[i]
		}
	}
	return nil
}

func (a *app) answerSuggestion(ctx context.Context, accepted bool) {
	pending := latestSuggestion(a.log.Messages())
	if pending == nil {
		fmt.Println("[INFO] No pending reminder offers.")
		return
	}
	itemID := pending.Actions[0].ItemID
	if err := a.pipeline.HandleReminderAction(ctx, pending.ID, itemID, accepted); err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	if accepted {
		fmt.Println("[OK] Reminder set.")
	} else {
		fmt.Println("[OK] Dismissed.")
	}
}

func (a *app) printKnowledge(ctx context.Context) {
	prof, err := a.store.Current(ctx)
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	if prof.Knowledge.Count() == 0 {
		fmt.Println("Knowledge base is empty.")
		return
	}
	for _, cat := range knowledge.Categories() {
		items := prof.Knowledge[cat]
		if len(items) == 0 {
			continue
		}
		fmt.Printf("%s:\n", cat)
		for _, item := range items {
			marker := " "
			if item.ReminderSet {
				marker = "*"
			}
			fmt.Printf("  [%s] %s - %s\n", marker, item.Title, item.Content)
		}
	}
}

func (a *app) printLog() {
	msgs := a.log.Messages()
	if len(msgs) == 0 {
		fmt.Println("No messages yet.")
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
		for _, action := range m.Actions {
			fmt.Printf("        (%s) %s\n", action.Kind, action.Label)
		}
	}
}
