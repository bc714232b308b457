package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aegisprime/pkg/proto"
	"aegisprime/pkg/workflow"
)

// maxURLBodyBytes caps how much page text is pulled in for URL grounding.
const maxURLBodyBytes = 512 * 1024

// exampleObjectives are canned starting points. They go through the ordinary
// objective submission path.
var exampleObjectives = []string{
	"Draft a marketing email for a new productivity app.",
	"Create a social media campaign for a local coffee brand.",
	"Explain the concept of blockchain to a 10-year-old.",
}

func repl(ctx context.Context, engine *workflow.Engine) int {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		p := engine.Project()
		fmt.Printf("\n[%s] > ", p.State)
		if !scanner.Scan() {
			return 0
		}
		if ctx.Err() != nil {
			return 0
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch cmd {
		case "quit", "exit":
			return 0
		case "help":
			printHelp()
		case "show":
			printProjection(engine.Project())
		case "objective":
			err = engine.SubmitObjective(ctx, rest)
			reportProposal(engine, err)
		case "examples":
			for i, example := range exampleObjectives {
				fmt.Printf("  %d. %s\n", i+1, example)
			}
			fmt.Println("Use 'example <number>' to start with one.")
		case "example":
			var n int
			if _, scanErr := fmt.Sscanf(rest, "%d", &n); scanErr != nil || n < 1 || n > len(exampleObjectives) {
				err = fmt.Errorf("usage: example <1-%d>", len(exampleObjectives))
				break
			}
			err = engine.SubmitObjective(ctx, exampleObjectives[n-1])
			reportProposal(engine, err)
		case "pillar":
			var key proto.PillarKey
			key, err = proto.ParsePillarKey(rest)
			if err == nil {
				err = engine.RequestPillarRefinement(ctx, key)
				reportProposal(engine, err)
			}
		case "confirm":
			err = engine.ConfirmStrategy(ctx)
			reportProposal(engine, err)
		case "feedback":
			err = engine.RequestBlueprintRefinement(ctx, rest)
			reportProposal(engine, err)
		case "finalize":
			if err = engine.FinalizeBlueprint(); err == nil {
				fmt.Println("Blueprint finalized. Use 'export' to save it or 'new' to start over.")
			}
		case "new":
			engine.StartNewSession()
			fmt.Println("Started a new session.")
		case "name":
			engine.SetSessionName(rest)
		case "attach":
			err = attachFile(engine, rest)
		case "detach":
			err = engine.RemoveAttachment(rest)
		case "summarize":
			id, summary, _ := strings.Cut(rest, " ")
			err = engine.SetAttachmentSummary(id, summary)
		case "url":
			err = addURL(ctx, engine, rest)
		case "history":
			printHistory(engine)
		case "export":
			err = exportSession(engine, rest)
		default:
			fmt.Printf("Unknown command %q. Type 'help' for commands.\n", cmd)
		}

		if err != nil {
			if errors.Is(err, workflow.ErrIllegalEvent) {
				fmt.Printf("Not now: %v\n", err)
			} else {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

func printHelp() {
	fmt.Print(`Commands:
  objective <text>       Submit your objective and generate a strategy
  examples               List example objectives to start from
  example <n>            Submit one of the example objectives
  pillar <key>           Regenerate one pillar (persona, audience, format, tone)
  confirm                Confirm the strategy and generate the blueprint
  feedback <text>        Refine the blueprint with feedback
  finalize               Accept the blueprint and end the run
  new                    Abandon everything and start a new session
  attach <path>          Attach a file before submitting the objective
  detach <id>            Remove an attachment
  summarize <id> <text>  Add a short description for an attachment
  url <url>              Fetch a URL and store a structured summary as grounding
  name <text>            Rename the session
  show                   Show the current state, strategy, and blueprint
  history                Show the generation history
  export json|md <path>  Export the session
  quit                   Exit
`)
}

func reportProposal(engine *workflow.Engine, err error) {
	if err != nil {
		return
	}
	printProjection(engine.Project())
}

func printProjection(p workflow.Projection) {
	fmt.Printf("Session %q (%s), state %s\n", p.SessionName, p.SessionID, p.State)
	if p.Objective != "" {
		fmt.Printf("Objective: %s\n", p.Objective)
	}
	for _, a := range p.Attachments {
		fmt.Printf("Attachment %s: %s (%s, %d bytes)\n", a.ID, a.Name, a.MimeType, a.Size)
	}
	if p.URLContext != nil {
		fmt.Printf("URL context: %s - %s\n", p.URLContext.URL, p.URLContext.Title)
	}
	if p.Strategy != nil {
		fmt.Println("\nStrategy:")
		for _, key := range proto.PillarKeys() {
			pillar := p.Strategy.Pillar(key)
			fmt.Printf("  %-8s %s\n           %s\n", key+":", pillar.Title, pillar.Description)
		}
	}
	if p.Blueprint != nil {
		fmt.Printf("\nBlueprint:\n%s\n\nAnalysis: %s\n", p.Blueprint.Prompt, p.Blueprint.Analysis)
		for _, s := range p.Blueprint.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
		for _, q := range p.Blueprint.Questions {
			fmt.Printf("  ? %s\n", q)
		}
	}
	if p.ConvergenceHint {
		fmt.Printf("\nThe blueprint has been refined %d times; it may be ready to finalize.\n", p.RefinementRounds)
	}
	if p.LastError != "" {
		fmt.Printf("\nLast error: %s\nUse 'new' to start over.\n", p.LastError)
	}
}

func printHistory(engine *workflow.Engine) {
	entries := engine.History()
	if len(entries) == 0 {
		fmt.Println("No generation calls yet.")
		return
	}
	for _, entry := range entries {
		fmt.Printf("%s  %-20s  %d prompt chars, %d response chars\n",
			entry.CreatedAt.Format(time.RFC3339), entry.Kind, len(entry.Prompt), len(entry.Response))
	}
}

func attachFile(engine *workflow.Engine, path string) error {
	if path == "" {
		return fmt.Errorf("usage: attach <path>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	id, err := engine.AddAttachment(filepath.Base(path), mimeType,
		base64.StdEncoding.EncodeToString(data), int64(len(data)))
	if err != nil {
		return err
	}
	fmt.Printf("Attached %s as %s (%s)\n", filepath.Base(path), id, mimeType)
	return nil
}

func addURL(ctx context.Context, engine *workflow.Engine, url string) error {
	if url == "" {
		return fmt.Errorf("usage: url <url>")
	}

	pageText, err := fetchPage(ctx, url)
	if err != nil {
		return err
	}

	fmt.Println("Analyzing page content...")
	if err := engine.AddURLContext(ctx, url, pageText); err != nil {
		return err
	}
	p := engine.Project()
	if p.URLContext != nil {
		fmt.Printf("Stored context: %s\n", p.URLContext.Title)
	}
	return nil
}

func fetchPage(ctx context.Context, url string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return string(body), nil
}

func exportSession(engine *workflow.Engine, rest string) error {
	format, path, _ := strings.Cut(rest, " ")
	path = strings.TrimSpace(path)
	if format == "" || path == "" {
		return fmt.Errorf("usage: export json|md <path>")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	switch format {
	case "json":
		err = engine.ExportJSON(f)
	case "md", "markdown":
		err = engine.ExportMarkdown(f)
	default:
		return fmt.Errorf("unknown export format %q (want json or md)", format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}
