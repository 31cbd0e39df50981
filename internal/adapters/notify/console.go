package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Format es el modo de salida del reporte.
type Format string

const (
	FormatTable   Format = "table"
	FormatCompact Format = "compact"
	FormatJSON    Format = "json"
)

// ParseFormat acepta table, compact o json (vacío = table).
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatCompact, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("notify: unknown format %q (table|compact|json)", s)
}

// Console implementa ports.Reporter.
type Console struct {
	out    io.Writer
	format Format
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(format Format) *Console {
	return &Console{out: os.Stdout, format: format}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, format Format) *Console {
	return &Console{out: w, format: format}
}

// Report imprime el reporte en el modo configurado.
func (c *Console) Report(_ context.Context, r domain.Report) error {
	switch c.format {
	case FormatJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("notify.Report: %w", err)
		}
		return nil
	case FormatCompact:
		c.PrintStatus(r)
		return nil
	}

	c.printHeader(r)
	c.printAccount(r.Account)
	c.printPositions(r.Positions)
	c.printOrders(r.Orders)
	c.printActivity(r.Activity)
	c.printEvaluation(r.Evaluation)
	c.printCohorts(r.Cohorts)
	return nil
}

// PrintStatus imprime el estado en una línea, pensado para el loop live.
func (c *Console) PrintStatus(r domain.Report) {
	a := r.Account
	e := r.Evaluation

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] bal $%.2f | eq $%.2f (%s) | rsv $%.2f | %d pos | %d trades | dec %d/%d/%d",
		stamp(r.GeneratedAt), a.Balance, a.Equity, signedPct(a.TotalPnL, a.InitialBalance),
		a.Reserved, a.OpenPositions, a.TotalTrades,
		e.ResolvedDecisions, e.PendingDecisions, e.ExcludedDecisions)
	if e.ResolvedDecisions > 0 {
		fmt.Fprintf(&sb, " | brier %.4f | epr %.2f", e.BrierScore, e.EdgePreservationRatio)
	}
	if r.DroppedSnapshots > 0 {
		fmt.Fprintf(&sb, " | dropped %d", r.DroppedSnapshots)
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printHeader(r domain.Report) {
	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  PAPER EXCHANGE REPORT  %s\n", stamp(r.GeneratedAt))
	fmt.Fprintf(c.out, "========================================================\n\n")
}

// printAccount omite la sección si el reporte no trae cuenta (reporte desde el journal).
func (c *Console) printAccount(a domain.AccountSnapshot) {
	if a == (domain.AccountSnapshot{}) {
		return
	}
	fmt.Fprintf(c.out, "  Initial:    $%.2f\n", a.InitialBalance)
	fmt.Fprintf(c.out, "  Balance:    $%.2f  (reserved $%.2f)\n", a.Balance, a.Reserved)
	fmt.Fprintf(c.out, "  Equity:     $%.2f\n", a.Equity)
	fmt.Fprintf(c.out, "  Total PnL:  $%+.4f  (%s)\n", a.TotalPnL, signedPct(a.TotalPnL, a.InitialBalance))
	fmt.Fprintf(c.out, "  Unrealized: $%+.4f\n", a.UnrealizedPnL)
	fmt.Fprintf(c.out, "  Fees paid:  $%.4f\n", a.FeesPaid)
	fmt.Fprintf(c.out, "  Trades:     %d closed  (win rate %.1f%%)\n", a.TotalTrades, a.WinRate*100)
}

func (c *Console) printPositions(positions []domain.Position) {
	fmt.Fprintf(c.out, "\n--- Positions (%d) ---\n", len(positions))
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  No open positions.")
		return
	}

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Market", "Token", "Side", "Qty", "Avg", "Mark", "Unreal", "Realized")
	for _, p := range positions {
		tbl.Append(
			domain.TruncateID(p.MarketID, 12),
			domain.TruncateID(p.TokenID, 12),
			string(p.Side),
			fmt.Sprintf("%.2f", p.Quantity),
			fmt.Sprintf("%.4f", p.AvgPrice),
			fmt.Sprintf("%.4f", p.MarkPrice),
			fmt.Sprintf("$%+.4f", p.UnrealizedPnL),
			fmt.Sprintf("$%+.4f", p.RealizedPnL),
		)
	}
	tbl.Render()
}

func (c *Console) printOrders(orders []domain.Order) {
	if len(orders) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n--- Resting orders (%d) ---\n", len(orders))

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Order", "Token", "Side", "Price", "Filled", "Remaining", "Mode", "Age")
	for _, o := range orders {
		tbl.Append(
			domain.TruncateID(o.ID, 12),
			domain.TruncateID(o.TokenID, 12),
			string(o.Side),
			fmt.Sprintf("%.4f", o.Price),
			fmt.Sprintf("%.2f/%.2f", o.Filled, o.Size),
			fmt.Sprintf("%.2f", o.Remaining),
			string(o.QueueMode),
			age(o.CreatedAt),
		)
	}
	tbl.Render()
}

func (c *Console) printActivity(activity []domain.MarketActivity) {
	if len(activity) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n--- Activity by market ---\n")

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Market", "Orders", "Fills", "Volume", "Notional", "Fees")
	var fills, orders int
	var volume, notional, fees float64
	for _, a := range activity {
		fills += a.Fills
		orders += a.Orders
		volume += a.Volume
		notional += a.Notional
		fees += a.Fees
		tbl.Append(
			domain.TruncateID(a.MarketID, 16),
			fmt.Sprintf("%d", a.Orders),
			fmt.Sprintf("%d", a.Fills),
			fmt.Sprintf("%.2f", a.Volume),
			fmt.Sprintf("$%.2f", a.Notional),
			fmt.Sprintf("$%.4f", a.Fees),
		)
	}
	tbl.Append("TOTAL",
		fmt.Sprintf("%d", orders),
		fmt.Sprintf("%d", fills),
		fmt.Sprintf("%.2f", volume),
		fmt.Sprintf("$%.2f", notional),
		fmt.Sprintf("$%.4f", fees),
	)
	tbl.Render()
}

func (c *Console) printEvaluation(e domain.EvaluationStats) {
	fmt.Fprintf(c.out, "\n--- Evaluation ---\n")
	fmt.Fprintf(c.out, "  Decisions: %d total | %d resolved | %d pending | %d excluded\n",
		e.TotalDecisions, e.ResolvedDecisions, e.PendingDecisions, e.ExcludedDecisions)
	if e.ResolvedDecisions == 0 {
		fmt.Fprintln(c.out, "  No resolved decisions yet.")
		return
	}
	fmt.Fprintf(c.out, "  Brier score:        %.4f\n", e.BrierScore)
	fmt.Fprintf(c.out, "  Mean edge:          %+.4f\n", e.MeanEdge)
	fmt.Fprintf(c.out, "  Edge preservation:  %.2f\n", e.EdgePreservationRatio)
	fmt.Fprintf(c.out, "  Execution drag:     %.1f bps\n", e.MeanExecutionDragBps)
	fmt.Fprintf(c.out, "  Realized PnL:       $%+.4f\n", e.TotalPnL)
	fmt.Fprintf(c.out, "  Win rate:           %.1f%%\n", e.WinRate*100)
	fmt.Fprintf(c.out, "  Prediction acc.:    %.1f%%\n", e.PredictionAccuracy*100)
}

func (c *Console) printCohorts(cohorts []domain.CohortStats) {
	if len(cohorts) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n--- Cohorts ---\n")

	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Cohort", "Start", "Dec", "Res", "Excl", "Brier", "Edge", "EPR", "PnL", "Win%")
	for _, ch := range cohorts {
		tbl.Append(
			fmt.Sprintf("%d", ch.CohortID),
			ch.Start.UTC().Format("01-02 15:04"),
			fmt.Sprintf("%d", ch.TotalDecisions),
			fmt.Sprintf("%d", ch.ResolvedDecisions),
			fmt.Sprintf("%d", ch.ExcludedDecisions),
			fmt.Sprintf("%.4f", ch.BrierScore),
			fmt.Sprintf("%+.4f", ch.MeanEdge),
			fmt.Sprintf("%.2f", ch.EdgePreservationRatio),
			fmt.Sprintf("$%+.2f", ch.TotalPnL),
			fmt.Sprintf("%.0f%%", ch.WinRate*100),
		)
	}
	tbl.Render()
	fmt.Fprintln(c.out, "  EPR = realized / theoretical PnL | Edge = fair - market prob")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func signedPct(pnl, base float64) string {
	if base == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", pnl/base*100)
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.0fd", d.Hours()/24)
}
