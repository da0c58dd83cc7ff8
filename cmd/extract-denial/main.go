// Command extract-denial runs the intake extraction on one denial document
// and prints the parsed fields and the drafted appeal letter.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/infrastructure/extraction"
)

func main() {
	mode := flag.String("mode", "regex", "extraction mode: llm, regex or mock")
	apiKey := flag.String("key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	model := flag.String("model", "gpt-4o-mini", "OpenAI model for llm mode")
	maxPages := flag.Int("pages", 20, "maximum PDF pages to read")
	timeout := flag.Duration("timeout", 60*time.Second, "extraction timeout")
	verbose := flag.Bool("verbose", false, "verbose output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: extract-denial [--mode llm|regex|mock] <file.pdf|file.txt>")
		os.Exit(2)
	}

	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}

	extractor, err := buildExtractor(*mode, *apiKey, *model, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	text, err := readText(ctx, flag.Arg(0), *maxPages, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	ext, err := extractor.Extract(ctx, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: extraction failed: %v\n", err)
		os.Exit(1)
	}

	letters, err := extraction.NewTemplateLetterGenerator(extraction.DefaultLetterTemplate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	letter, err := letters.Generate(ctx, ext)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: letter generation failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(ext, "", "  ")
	fmt.Println("=== Extraction ===")
	fmt.Println(string(out))
	for _, w := range ext.ParsingWarnings {
		fmt.Printf("WARNING: %s\n", w)
	}
	fmt.Println()
	fmt.Println("=== Appeal letter ===")
	fmt.Println(letter)
}

func buildExtractor(mode, apiKey, model string, logger *zap.Logger) (port.Extractor, error) {
	switch mode {
	case "mock":
		return extraction.SampleExtractor{}, nil
	case "regex":
		return extraction.NewRegexExtractor(), nil
	case "llm":
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and no --key flag provided")
		}
		client := extraction.NewOpenAIClient(apiKey, "", 0)
		llm := extraction.NewLLMExtractor(client, model, 0, logger)
		return extraction.NewFallbackExtractor(llm, extraction.NewRegexExtractor(), logger), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func readText(ctx context.Context, path string, maxPages int, logger *zap.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !extraction.IsPDF(data) {
		if strings.HasSuffix(strings.ToLower(path), ".pdf") {
			return "", fmt.Errorf("%s is not a valid PDF", path)
		}
		return string(data), nil
	}
	return extraction.NewPDFReader(maxPages, logger).ReadText(ctx, data)
}
