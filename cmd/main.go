package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/corpus/pkg/bot"
	cfgPkg "github.com/xhad/corpus/pkg/config"
	"github.com/xhad/corpus/pkg/history"
	"github.com/xhad/corpus/pkg/indexer"
	"github.com/xhad/corpus/pkg/lexical"
	"github.com/xhad/corpus/pkg/llm"
	"github.com/xhad/corpus/pkg/retriever"
	"github.com/xhad/corpus/pkg/source"
	"github.com/xhad/corpus/pkg/store"
	"github.com/xhad/corpus/server"
)

type Flags struct {
	ConfigPath string
	IndexURL   string
	Depth      int
	Serve      bool
	Addr       string
	UserID     string
	Verbose    bool
}

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var flags Flags

	flag.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&flags.IndexURL, "index", "", "Page URL to index before starting")
	flag.IntVar(&flags.Depth, "depth", 0, "Crawl depth when indexing (0 = single page)")
	flag.BoolVar(&flags.Serve, "serve", false, "Run the HTTP/WebSocket server instead of the chat prompt")
	flag.StringVar(&flags.Addr, "addr", "", "Server listen address (overrides config)")
	flag.StringVar(&flags.UserID, "user", "local", "User id for the interactive chat")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return flags
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(flags Flags) error {
	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := cfgPkg.LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	ctx := context.Background()

	docSource, err := source.NewWithConfig(source.SourceConfig{
		BaseURL:        cfg.Source.BaseURL,
		RateLimit:      cfg.Source.RateLimit,
		IgnorePatterns: cfg.Source.IgnorePatterns,
		Username:       cfg.Source.Username,
		Token:          cfg.Source.Token,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize document source: %v", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   cfg.LLM.EmbeddingModel,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		BaseURL:       cfg.LLM.BaseURL,
		Temperature:   cfg.LLM.Temperature,
		HistoryWindow: cfg.LLM.HistoryWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	pageStore, err := store.NewWithConfig(ctx, store.StoreConfig{
		ConnString: cfg.Database.URL,
		VectorDim:  cfg.Database.VectorDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize store: %v", err)
	}
	defer pageStore.Close()

	lexIndex, err := lexical.NewWithConfig(lexical.IndexConfig{Path: cfg.Lexical.IndexPath})
	if err != nil {
		return fmt.Errorf("failed to initialize lexical index: %v", err)
	}
	defer lexIndex.Close()

	ix := indexer.NewWithConfig(indexer.IndexerConfig{MaxDepth: cfg.Source.MaxDepth},
		docSource, embedder, pageStore, lexIndex)
	ret := retriever.New(pageStore, embedder, lexIndex)
	histories := history.NewWithConfig(history.StoreConfig{
		MaxRetries:  cfg.History.MaxRetries,
		DedupWindow: dedupWindow(cfg.History.DedupSeconds),
	}, pageStore)
	chatbot := bot.NewWithConfig(bot.BotConfig{
		ShareTTLHours: cfg.History.ShareTTLHours,
		Search: retriever.SearchOptions{
			Limit:     cfg.Retriever.SearchLimit,
			Threshold: cfg.Retriever.SearchThreshold,
		},
		Chat: retriever.SearchOptions{
			Limit:         cfg.Retriever.ChatLimit,
			Threshold:     cfg.Retriever.ChatThreshold,
			IncludeChunks: true,
		},
	}, ret, chatEngine, ix, histories)

	if flags.IndexURL != "" {
		if err := runIndex(ctx, chatbot, flags); err != nil {
			return err
		}
	}

	if flags.Serve {
		addr := flags.Addr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		return server.New(chatbot).Run(addr)
	}

	return runChat(ctx, chatbot, flags.UserID)
}

func runIndex(ctx context.Context, chatbot *bot.Bot, flags Flags) error {
	color.Blue("\nIndexing %s (depth %d)\n", flags.IndexURL, flags.Depth)

	bar := getProgressBar(-1, "Fetching and embedding pages...")
	pages, err := chatbot.Index(ctx, flags.IndexURL, flags.UserID, flags.Depth)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to index %s: %v", flags.IndexURL, err)
	}

	color.Green("\n✓ Indexed %d pages\n", len(pages))
	for _, p := range pages {
		fmt.Printf("  %s  %s\n", p.ID, p.Title)
	}
	return nil
}

func runChat(ctx context.Context, chatbot *bot.Bot, userID string) error {
	color.Cyan("\nChat with your knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	sessionID := ""
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		spinner := getSpinner("Generating response...")
		result, err := chatbot.Chat(ctx, userID, sessionID, query)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		sessionID = result.SessionID

		assistantPrompt("Assistant: %s\n", result.Reply)
		if len(result.Sources) > 0 {
			fmt.Println()
			for _, s := range result.Sources {
				color.Yellow("  source: %s (%s)\n", s.Title, s.URL)
			}
		}
		if !result.Saved {
			color.Red("  (this turn could not be saved)\n")
		}
	}

	return nil
}

func dedupWindow(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
