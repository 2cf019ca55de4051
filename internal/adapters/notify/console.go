package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/charliebot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Reporter escribiendo una línea por evento.
type Console struct {
	out     io.Writer
	verbose bool
	now     func() time.Time
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose, now: time.Now}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose, now: time.Now}
}

// Report imprime el evento en formato compacto. Los eventos ruidosos solo
// se muestran en modo verbose.
func (c *Console) Report(_ context.Context, ev domain.Event) {
	if !c.verbose && noisy(ev.Kind) {
		return
	}

	at := ev.At
	if at.IsZero() {
		at = c.now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-14s %-16s", at.Format("15:04:05"), ev.State, ev.Kind)

	switch {
	case ev.Position != nil:
		p := ev.Position
		fmt.Fprintf(&sb, " qty %d @ %.1f", p.Quantity, p.EntryPrice)
		if ev.LiqPrice > 0 {
			fmt.Fprintf(&sb, " liq %.1f", ev.LiqPrice)
		}
	case ev.Side != "":
		fmt.Fprintf(&sb, " %-5s %d @ %.1f", ev.Side, ev.Quantity, ev.Price)
		if ev.OrderID != "" {
			fmt.Fprintf(&sb, " (%s)", shortID(ev.OrderID))
		}
	case ev.Price > 0:
		fmt.Fprintf(&sb, " @ %.1f", ev.Price)
	}
	if ev.Count > 0 {
		fmt.Fprintf(&sb, " x%d", ev.Count)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&sb, " | %s", ev.Detail)
	}
	if ev.Err != nil {
		fmt.Fprintf(&sb, " !! %v", ev.Err)
	}

	fmt.Fprintln(c.out, sb.String())
}

// PrintLadder imprime la escalera de longs que se colocaría para una entrada.
func (c *Console) PrintLadder(entry float64, quantity int, steps []domain.LadderStep) {
	fmt.Fprintf(c.out, "\nLadder for entry %.1f, %d contracts\n", entry, quantity)
	if len(steps) == 0 {
		fmt.Fprintln(c.out, "  (empty: quantity above the ladder cap)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Price", "Qty", "Offset", "Drop %", "Cum qty")

	cum := quantity
	for i, s := range steps {
		cum += s.Quantity
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.1f", s.Price),
			fmt.Sprintf("%d", s.Quantity),
			fmt.Sprintf("%d", s.Offset),
			fmt.Sprintf("%.2f%%", (entry-s.Price)/entry*100),
			fmt.Sprintf("%d", cum),
		)
	}
	table.Render()
}

// PrintReport imprime el resumen del diario y los últimos eventos.
func (c *Console) PrintReport(stats domain.JournalStats, events []domain.JournalEntry) {
	fmt.Fprintf(c.out, "\n========================================================\n")
	fmt.Fprintf(c.out, "  JOURNAL REPORT\n")
	fmt.Fprintf(c.out, "========================================================\n\n")

	if stats.CyclesStarted == 0 && len(events) == 0 {
		fmt.Fprintln(c.out, "  No journal data yet. Run the bot first.")
		return
	}

	fmt.Fprintf(c.out, "  Cycles:          %d started, %d completed\n", stats.CyclesStarted, stats.CyclesCompleted)
	fmt.Fprintf(c.out, "  Orders:          %d placed, %d cancelled\n", stats.OrdersPlaced, stats.OrdersCancelled)
	fmt.Fprintf(c.out, "  Failed passes:   %d\n", stats.FailedPasses)
	fmt.Fprintf(c.out, "  Breaker trips:   %d\n", stats.BreakerTrips)
	fmt.Fprintf(c.out, "  Max position:    %d contracts\n", stats.MaxQuantity)
	if stats.LastEventAt != nil {
		fmt.Fprintf(c.out, "  Last event:      %s\n", stats.LastEventAt.Format(time.DateTime))
	}

	if len(stats.Cycles) > 0 {
		fmt.Fprintf(c.out, "\n── CYCLES (%d) ──\n", len(stats.Cycles))
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Cycle", "Started", "Entry", "Max qty", "Duration", "Status")
		now := c.now()
		for _, cy := range stats.Cycles {
			status := "open"
			if cy.EndedAt != nil {
				status = "flat"
			}
			tbl.Append(
				shortID(cy.ID),
				cy.StartedAt.Format("01-02 15:04"),
				fmt.Sprintf("%.1f", cy.EntryPrice),
				fmt.Sprintf("%d", cy.MaxQuantity),
				cy.Duration(now).Truncate(time.Second).String(),
				status,
			)
		}
		tbl.Render()
	}

	if len(events) > 0 {
		fmt.Fprintf(c.out, "\n── RECENT EVENTS (%d) ──\n", len(events))
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("At", "State", "Event", "Side", "Qty", "Price", "Detail")
		for _, e := range events {
			detail := e.Detail
			if e.Error != "" {
				detail = "!! " + e.Error
			}
			tbl.Append(
				e.At.Format("01-02 15:04:05"),
				string(e.State),
				string(e.Kind),
				string(e.Side),
				fmt.Sprintf("%d", e.Quantity),
				fmt.Sprintf("%.1f", e.Price),
				truncate(detail, 40),
			)
		}
		tbl.Render()
	}
	fmt.Fprintln(c.out)
}

func noisy(kind domain.EventKind) bool {
	return kind == domain.EventPositionRead || kind == domain.EventEntryWaiting
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
