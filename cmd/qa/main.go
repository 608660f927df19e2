package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/llm/openai"
	"github.com/radfollowup/wrangler/internal/query"
	"github.com/radfollowup/wrangler/internal/store"
)

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("STORE_DSN"), "store DSN (required; the store to query)")
		summarize = flag.Bool("summarize", false, "summarize answers with the language model")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "error: --dsn is required (nothing to query without a store)")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if cfg.Pipeline.VocabularyFile != "" {
		if err := constants.LoadVocabularyOverrides(cfg.Pipeline.VocabularyFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: loading vocabulary: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	sc := cfg.Store
	sc.DSN = *dsn
	st, err := store.OpenSQL(ctx, sc, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: opening store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	var eng *query.Engine
	if *summarize {
		client := openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			MaxRetries:  cfg.LLM.MaxRetries,
		}, logger)
		eng = query.NewEngine(st, client, logger)
	} else {
		eng = query.NewEngine(st, nil, logger)
	}

	fmt.Println("follow-up task QA. Ask about open tasks, e.g.:")
	fmt.Println(`  "which critical tasks are overdue?"`)
	fmt.Println(`  "how many liver findings for patient P123?"`)
	fmt.Println("blank line or Ctrl-D exits.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}
		ans, err := eng.Answer(ctx, question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printAnswer(ans)
	}
}

func printAnswer(a query.Answer) {
	if a.Unsupported {
		fmt.Println("(could not fully understand the question; showing best-effort results)")
	}
	if a.Query.CountOnly {
		fmt.Printf("%d task(s)\n", a.Count)
	} else if len(a.Tasks) == 0 {
		fmt.Println("no matching tasks")
	} else {
		for _, t := range a.Tasks {
			fmt.Println("  " + taskLine(t))
		}
		fmt.Printf("%d task(s)\n", a.Count)
	}
	if a.Summary != "" {
		fmt.Println(a.Summary)
	}
}

func taskLine(t *entity.Task) string {
	due := "unspecified"
	if t.DueLatest != nil {
		due = t.DueLatest.Format("2006-01-02")
	}
	finding := t.Finding
	if len([]rune(finding)) > 60 {
		finding = string([]rune(finding)[:57]) + "..."
	}
	return fmt.Sprintf("[%s] %s %s %s due=%s %q",
		t.Urgency, t.PatientID, t.BodyPart, t.Status, due, finding)
}
