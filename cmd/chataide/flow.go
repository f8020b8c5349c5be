package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chataide/internal/aide"
	"chataide/internal/audit"
	"chataide/internal/backend"
	"chataide/internal/browser"
	"chataide/internal/config"
	"chataide/internal/domain"
	"chataide/internal/extract"
	"chataide/internal/inject"
	"chataide/internal/site"
)

// flow bundles what a page command needs: the attached tab, a session and
// the journal behind it.
type flow struct {
	cfg     *config.Config
	page    *browser.Page
	session *aide.Session
	journal domain.Journal
}

func (f *flow) Close() {
	if f.page != nil {
		f.page.Close()
	}
	if f.journal != nil {
		f.journal.Close()
	}
}

// openFlow attaches to the chat tab and builds a session for it.
func openFlow(ctx context.Context, cfg *config.Config) (*flow, error) {
	registry := site.NewRegistry()
	if err := registry.LoadOverrides(cfg.Sites.OverridesFile, logger); err != nil {
		return nil, err
	}

	f := &flow{cfg: cfg}
	if cfg.Audit.Enabled {
		j, err := openJournal(ctx, cfg)
		if err != nil {
			logger.Warn("audit journal unavailable, continuing without it", "err", err)
		} else {
			f.journal = j
		}
	}

	bridge := browser.NewBridge(browser.BridgeConfig{
		RemoteURL:  cfg.Browser.RemoteURL,
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		DebugPort:  cfg.Browser.DebugPort,
		ChromePath: cfg.Browser.ChromePath,
		Logger:     logger,
	})
	page, err := bridge.Attach(ctx, cfg.Browser.StartURL)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("attach to browser: %w", err)
	}
	f.page = page

	f.session = aide.New(aide.Config{
		Registry:  registry,
		Extractor: extract.New(extract.Config{Registry: registry, Logger: logger}),
		Injector:  inject.New(inject.Config{Logger: logger}),
		Backend:   newBackend(cfg),
		Journal:   f.journal,
		Logger:    logger,
	})
	return f, nil
}

// openJournal opens the audit database and applies the retention window.
func openJournal(ctx context.Context, cfg *config.Config) (*audit.SQLiteJournal, error) {
	j, err := audit.NewSQLiteJournal(cfg.Audit.DBPath, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Audit.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Audit.RetentionDays)
		if _, err := j.Prune(ctx, cutoff); err != nil {
			logger.Warn("audit prune failed", "err", err)
		}
	}
	return j, nil
}

// pageContext bounds one page command by browser.timeoutSeconds.
func pageContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signalContext()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Browser.TimeoutSeconds)*time.Second)
	return ctx, func() {
		cancel()
		stop()
	}
}

func scanCmd() *cobra.Command {
	var selection bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read the recent conversation from the active chat tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := pageContext(cfg)
			defer cancel()

			f, err := openFlow(ctx, cfg)
			if err != nil {
				return err
			}
			defer f.Close()

			if selection {
				text, err := f.page.SelectedText(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]string{"selection": text})
				}
				fmt.Println(text)
				return nil
			}

			res, err := f.session.Scan(ctx, f.page)
			if jsonOutput {
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			}
			printDiagnostics(res.Diagnostics)
			if err != nil {
				return err
			}
			printConversation(res.Conversation)
			return nil
		},
	}
	cmd.Flags().BoolVar(&selection, "selection", false, "print the text currently selected in the page instead")
	return cmd
}

func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest",
		Short: "Scan the conversation and print three reply suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := pageContext(cfg)
			defer cancel()

			f, err := openFlow(ctx, cfg)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := f.session.Scan(ctx, f.page)
			if err != nil {
				printDiagnostics(res.Diagnostics)
				return err
			}
			acq, err := f.session.Generate(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{"conversation": res.Conversation, "acquisition": acq})
			}
			printConversation(res.Conversation)
			printReplies(acq)
			return nil
		},
	}
}

func insertCmd() *cobra.Command {
	var (
		reply string
		text  string
	)
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Type a suggested reply into the chat's message box",
		Long: `Scans the conversation, fetches suggestions and inserts one into the
message box without sending it. Without --reply or --text it asks which
suggestion to use and can fetch a new set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Interactive selection waits on the user, so only the signal
			// context bounds it.
			ctx, stop := signalContext()
			defer stop()

			f, err := openFlow(ctx, cfg)
			if err != nil {
				return err
			}
			defer f.Close()

			var res domain.InjectionResult
			if text != "" {
				res, err = f.session.InsertText(ctx, f.page, text)
			} else {
				res, err = insertSuggestion(ctx, f, reply)
			}
			if errors.Is(err, errCancelled) {
				return nil
			}
			if jsonOutput {
				if perr := printJSON(res); perr != nil {
					return perr
				}
				return err
			}
			printInjection(res)
			return err
		},
	}
	cmd.Flags().StringVarP(&reply, "reply", "r", "", "suggestion to insert: recommended, backup-1 or backup-2")
	cmd.Flags().StringVarP(&text, "text", "t", "", "insert this text instead of a suggestion")
	return cmd
}

var errCancelled = errors.New("cancelled")

func insertSuggestion(ctx context.Context, f *flow, choice string) (domain.InjectionResult, error) {
	if res, err := f.session.Scan(ctx, f.page); err != nil {
		printDiagnostics(res.Diagnostics)
		return domain.InjectionResult{}, err
	}
	acq, err := f.session.Generate(ctx)
	if err != nil {
		return domain.InjectionResult{}, err
	}
	if choice != "" {
		return f.session.Insert(ctx, f.page, choice)
	}

	in := bufio.NewReader(os.Stdin)
	for {
		printReplies(acq)
		fmt.Fprint(os.Stderr, "Insert which reply? [1-3, r = new suggestions, q = quit]: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return domain.InjectionResult{}, errCancelled
		}
		switch answer := strings.TrimSpace(strings.ToLower(line)); answer {
		case "q", "quit":
			return domain.InjectionResult{}, errCancelled
		case "r":
			if acq, err = f.session.Regenerate(ctx); err != nil {
				return domain.InjectionResult{}, err
			}
		default:
			res, err := f.session.Insert(ctx, f.page, answer)
			if errors.Is(err, aide.ErrUnknownReply) {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				continue
			}
			return res, err
		}
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [url]",
		Short: "Open a visible browser to log in to WhatsApp Web or Messenger",
		Long:  "Opens a visible Chrome window on the start page (browser.startURL by default). Log in, then press Ctrl+C; the session stays in the profile directory.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			url := cfg.Browser.StartURL
			if len(args) == 1 {
				url = args[0]
			}
			ctx, stop := signalContext()
			defer stop()

			bridge := browser.NewBridge(browser.BridgeConfig{
				RemoteURL:  cfg.Browser.RemoteURL,
				ProfileDir: cfg.Browser.ProfileDir,
				Logger:     logger,
			})
			return bridge.Login(ctx, url)
		},
	}
}

func historyCmd() *cobra.Command {
	var (
		limit int
		prune bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scan, generate and insert outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			j, err := audit.NewSQLiteJournal(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer j.Close()

			if prune {
				n, err := j.Prune(ctx, time.Now().AddDate(0, 0, -cfg.Audit.RetentionDays))
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d record(s) older than %d days\n", n, cfg.Audit.RetentionDays)
				return nil
			}

			recs, err := j.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(recs)
			}
			if len(recs) == 0 {
				fmt.Println("No recorded outcomes.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tSESSION\tACTION\tSITE\tRESULT\tCOUNT\tDETAIL")
			for _, r := range recs {
				result := "ok"
				if !r.Success {
					result = "failed"
				}
				detail := r.Detail
				if r.Error != "" {
					detail = strings.TrimSpace(detail + " " + r.Error)
				}
				sid := r.SessionID
				if len(sid) > 8 {
					sid = sid[:8]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					humanize.Time(r.CreatedAt), sid, r.Action, r.Site, result, r.Count, detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete records older than audit.retentionDays")
	return cmd
}

func printDiagnostics(d domain.ExtractDiagnostics) {
	fmt.Printf("Site: %s", d.Site)
	if d.Chain != "" {
		fmt.Printf(" (chain %s", d.Chain)
		if d.Fallback {
			fmt.Print(", generic fallback")
		}
		fmt.Print(")")
	}
	fmt.Println()
	if d.MessageCount == 0 {
		for _, id := range domain.SiteIDs {
			if n, ok := d.SelectorCounts[id]; ok {
				fmt.Printf("  %-10s %d candidate(s)\n", id, n)
			}
		}
	}
}

func printConversation(c domain.Conversation) {
	emojis := "no"
	if c.HasEmojis {
		emojis = "yes"
	}
	fmt.Printf("Tone: %s, emojis: %s, %d message(s)\n", c.Tone, emojis, len(c.Messages))
	for _, m := range c.Messages {
		fmt.Printf("  > %s\n", m.Text)
	}
}

func printReplies(acq backend.Acquisition) {
	fmt.Println()
	fmt.Printf("  1) recommended: %s\n", acq.Replies.Recommended)
	fmt.Printf("  2) backup-1:    %s\n", acq.Replies.Backup1)
	fmt.Printf("  3) backup-2:    %s\n", acq.Replies.Backup2)
	if acq.Notice != "" {
		fmt.Printf("  (%s)\n", acq.Notice)
	}
}

func printInjection(res domain.InjectionResult) {
	if res.Success {
		fmt.Printf("Inserted into %s input (%s).\n", res.Site, res.Target)
	} else {
		fmt.Printf("Could not insert the reply on %s.\n", res.Site)
	}
	for _, a := range res.Log {
		mark := "x"
		if a.Succeeded {
			mark = "ok"
		}
		line := fmt.Sprintf("  [%s] %s", mark, a.Strategy)
		if a.Detail != "" {
			line += " " + a.Detail
		}
		if a.Error != "" {
			line += ": " + a.Error
		}
		fmt.Println(line)
	}
}
