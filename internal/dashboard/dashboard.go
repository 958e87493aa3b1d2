// Package dashboard renders a single-screen terminal status panel each
// tick as one boxed string, built with github.com/charmbracelet/lipgloss
// instead of raw ANSI escapes. Render only builds the string; it does not
// clear or reposition the terminal, so each printed panel follows the
// previous one.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// Snapshot is everything the panel renders for one tick. It is
// deliberately decoupled from the quoting/ordermanager/unwind package
// types — the orchestrator maps its own state into this shape, keeping
// this package free of a dependency back on the control-loop packages.
type Snapshot struct {
	Coin string
	Mode string

	Mark      decimal.Decimal
	Mid       decimal.Decimal
	State     string
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	Size      decimal.Decimal

	PositionSide string
	PositionSize decimal.Decimal
	EntryPrice   decimal.Decimal
	UnrealizedPnL decimal.Decimal

	Collateral          decimal.Decimal
	AvailableCollateral decimal.Decimal

	Placed     int
	Cancelled  int
	Rebalanced int

	LastUnwindSummary string

	ConsecutiveErrors int
	UpdatedAt         time.Time
}

// Render produces the full panel as a single string, ready to print.
func Render(s Snapshot) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s market maker — %s", s.Coin, s.Mode)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(s.UpdatedAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteString("\n\n")

	b.WriteString(row("mark", s.Mark.String()))
	b.WriteString(row("mid", s.Mid.String()))
	b.WriteString(row("state", stateStyled(s.State)))
	b.WriteString(row("quote", fmt.Sprintf("%s / %s  size=%s", s.BuyPrice, s.SellPrice, s.Size)))
	b.WriteString("\n")

	b.WriteString(row("position", fmt.Sprintf("%s %s @ %s", s.PositionSide, s.PositionSize, s.EntryPrice)))
	b.WriteString(row("unrealized pnl", pnlStyled(s.UnrealizedPnL)))
	b.WriteString(row("collateral", fmt.Sprintf("%s total / %s available", s.Collateral, s.AvailableCollateral)))
	b.WriteString("\n")

	b.WriteString(row("placed/cancelled/rebalanced", fmt.Sprintf("%d / %d / %d", s.Placed, s.Cancelled, s.Rebalanced)))
	if s.LastUnwindSummary != "" {
		b.WriteString(row("last unwind", s.LastUnwindSummary))
	}

	if s.ConsecutiveErrors > 0 {
		b.WriteString(row("consecutive errors", warnStyle.Render(fmt.Sprintf("%d", s.ConsecutiveErrors))))
	}

	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func stateStyled(state string) string {
	switch state {
	case "PLACING", "MONITORING":
		return goodStyle.Render(state)
	case "REBALANCING", "MID_WAIT", "WAITING":
		return warnStyle.Render(state)
	case "NO_SIZE":
		return badStyle.Render(state)
	default:
		return state
	}
}

func pnlStyled(pnl decimal.Decimal) string {
	if pnl.IsPositive() {
		return goodStyle.Render(pnl.String())
	}
	if pnl.IsNegative() {
		return badStyle.Render(pnl.String())
	}
	return pnl.String()
}
