package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/beslagsboden/dialog-engine/internal/catalog"
	"github.com/beslagsboden/dialog-engine/internal/engine"
	"github.com/beslagsboden/dialog-engine/internal/session"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation with the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildCLIDeps()
			if err != nil {
				return err
			}
			defer deps.close()

			return runChat(deps)
		},
	}
}

func runChat(deps *cliDeps) error {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	bold.Println("Beslagsboden produktassistent")
	faint.Println(`Fråga fritt, eller använd -t/-c/-s/-f <produkt-id>. "exit" avslutar, ":stats" visar statistik.`)
	fmt.Println()

	conv := session.NewContext()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		bold.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "exit", "quit":
			return scanner.Err()
		case ":stats":
			printStats(deps.engine.Stats())
			continue
		case ":context":
			printContext(conv)
			continue
		}

		sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = " analyserar..."
		sp.Start()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		result := deps.engine.Process(ctx, input, conv)
		cancel()
		sp.Stop()

		conv = result.Context
		printResult(result)
	}

	return scanner.Err()
}

func printResult(result *engine.TurnResult) {
	if flagJSON {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	switch result.State {
	case engine.StateCompleted:
		if result.Lookup != nil {
			printLookup(result.Lookup)
		}
		for i, cmp := range result.Comparison {
			if i > 0 {
				fmt.Println()
			}
			printLookup(cmp)
		}
		if result.Fallback != "" {
			faint.Println("(ingen produkt i fokus, visar sökresultat)")
		}
		meta := fmt.Sprintf("intent=%s", result.Intent)
		if result.Confidence > 0 {
			meta += fmt.Sprintf(" confidence=%.2f", result.Confidence)
		}
		if result.Cached {
			meta += " (cache)"
		}
		faint.Println(meta)

	case engine.StateLowConfidence:
		yellow.Println("Jag är inte säker på vad du menar.")
		for _, c := range result.Clarification {
			fmt.Println("  " + c.Prompt)
			for _, opt := range c.Options {
				fmt.Printf("    - %s\n", opt.Label)
			}
		}
		if len(result.Alternatives) > 0 {
			faint.Print("gissningar: ")
			parts := make([]string, 0, len(result.Alternatives))
			for _, alt := range result.Alternatives {
				parts = append(parts, fmt.Sprintf("%s (%.2f)", alt.Intent, alt.Confidence))
			}
			faint.Println(strings.Join(parts, ", "))
		}

	case engine.StateFailed:
		if result.Failure != nil {
			red.Println(result.Failure.Message)
		} else {
			red.Println("Något gick fel.")
		}

	default:
		green.Printf("state=%s\n", result.State)
	}
	fmt.Println()
}

func printLookup(res *catalog.Result) {
	bold := color.New(color.Bold)

	if res.Name != "" {
		bold.Printf("%s (%s)\n", res.Name, res.ProductID)
	}
	if res.Summary != "" {
		fmt.Println(res.Summary)
	}
	for _, spec := range res.Specs {
		if spec.Unit != "" {
			fmt.Printf("  %s: %s %s\n", spec.Name, spec.Value, spec.Unit)
		} else {
			fmt.Printf("  %s: %s\n", spec.Name, spec.Value)
		}
	}
	for _, compat := range res.Compat {
		line := "  passar: " + compat.TargetName
		if compat.Note != "" {
			line += " (" + compat.Note + ")"
		}
		fmt.Println(line)
	}
	for _, hit := range res.Hits {
		fmt.Printf("  %s (%s)\n", hit.Name, hit.ProductID)
	}
}

func printStats(snap engine.Snapshot) {
	fmt.Printf("turer: %d (kommandon %d, fritext %d)\n", snap.TotalTurns, snap.CommandTurns, snap.NaturalTurns)
	fmt.Printf("slutförda: %d  osäkra: %d  misslyckade: %d  cacheträffar: %d\n",
		snap.Completed, snap.LowConfidence, snap.Failed, snap.CacheHits)
	fmt.Printf("framgångsgrad: %.0f%%  drifttid: %.0fs\n", snap.SuccessRate*100, snap.UptimeSeconds)
}

func printContext(conv session.Context) {
	fmt.Printf("stage: %s\n", conv.Stage())
	if conv.ActiveProduct != "" {
		fmt.Printf("aktiv produkt: %s\n", conv.ActiveProduct)
	}
	if conv.LastProperty != "" {
		fmt.Printf("senaste egenskap: %s\n", conv.LastProperty)
	}
	if conv.PreviousIntent != "" {
		fmt.Printf("senaste intent: %s\n", conv.PreviousIntent)
	}
	if len(conv.MentionedProducts) > 0 {
		fmt.Printf("nämnda produkter: %s\n", strings.Join(conv.MentionedProducts, ", "))
	}
	fmt.Printf("historik: %d yttranden\n", len(conv.History))
}
