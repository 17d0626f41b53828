package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tradecore/execd/internal/journal"
)

func main() {
	journalPath := flag.String("journal", "journal.json", "Path to the journal snapshot")
	xlsxPath := flag.String("xlsx", "", "Optional xlsx export path")
	orderID := flag.String("order", "", "Show the history of one order")
	flag.Parse()

	jrnl := journal.NewMemoryJournal()
	if err := journal.LoadFromFile(jrnl, *journalPath); err != nil {
		log.Fatalf("❌ Failed to load journal %s: %v", *journalPath, err)
	}
	entries := jrnl.Snapshot()
	if len(entries) == 0 {
		fmt.Println("Journal is empty, nothing to report")
		return
	}

	if *orderID != "" {
		printOrderHistory(jrnl, *orderID)
	} else {
		printSummary(entries)
		printOrderOutcomes(entries)
	}

	if *xlsxPath != "" {
		if err := journal.ExportXLSX(entries, *xlsxPath); err != nil {
			log.Fatalf("❌ Failed to export xlsx: %v", err)
		}
		fmt.Printf("📊 Exported %d entries to %s\n", len(entries), *xlsxPath)
	}
}

func printSummary(entries []journal.Entry) {
	counts := make(map[journal.EntryType]int)
	for _, e := range entries {
		counts[e.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("JOURNAL SUMMARY")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Entry Type", "Count"})
	for _, typ := range types {
		t.AppendRow(table.Row{typ, counts[journal.EntryType(typ)]})
	}
	t.AppendFooter(table.Row{"Total", len(entries)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
	fmt.Println()
}

// printOrderOutcomes reduces the journal to one row per order showing
// its creation, terminal state, and retry count
func printOrderOutcomes(entries []journal.Entry) {
	type outcome struct {
		symbol   string
		strategy string
		final    string
		retries  int
	}
	outcomes := make(map[string]*outcome)
	var order []string

	// Entries are stored oldest-first in the snapshot
	for _, e := range entries {
		if e.OrderID == "" {
			continue
		}
		o, seen := outcomes[e.OrderID]
		if !seen {
			o = &outcome{}
			outcomes[e.OrderID] = o
			order = append(order, e.OrderID)
		}
		switch e.Type {
		case journal.EntryOrderCreated:
			o.symbol = e.Details["symbol"]
			o.strategy = e.Details["strategy"]
			o.final = "PENDING"
		case journal.EntryRetryScheduled:
			o.retries++
		case journal.EntryOrderSubmitted:
			o.final = "SUBMITTED"
		case journal.EntryOrderPartiallyFilled:
			o.final = "PARTIALLY_FILLED"
		case journal.EntryOrderFilled:
			o.final = "FILLED"
		case journal.EntryOrderCancelled:
			o.final = "CANCELLED"
		case journal.EntryOrderRejected:
			o.final = "REJECTED"
		}
	}
	if len(order) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("ORDER OUTCOMES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Order ID", "Symbol", "Strategy", "Final Status", "Retries"})
	for _, id := range order {
		o := outcomes[id]
		t.AppendRow(table.Row{shorten(id), o.symbol, o.strategy, o.final, o.retries})
	}
	t.Render()
	fmt.Println()
}

func printOrderHistory(jrnl journal.Journal, orderID string) {
	entries := jrnl.Query(journal.Filter{OrderID: orderID})
	if len(entries) == 0 {
		fmt.Printf("No journal entries for order %s\n", orderID)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("ORDER %s", shorten(orderID)))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Timestamp", "Type", "Details"})
	// Query returns newest-first; show the history oldest-first
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		t.AppendRow(table.Row{
			e.Timestamp.Format("2006-01-02 15:04:05"),
			string(e.Type),
			flattenDetails(e.Details),
		})
	}
	t.Render()
}

func flattenDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, details[k]))
	}
	return strings.Join(parts, " ")
}

func shorten(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
