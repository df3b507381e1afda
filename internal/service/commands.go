package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pairbot/internal/bot"
	"pairbot/internal/models"
)

// EngineView - то, что команды чата читают из движка
type EngineView interface {
	Status() bot.EngineStatus
	Snapshot() []*models.Pair
}

// NewCommandResponder отвечает на /status, /pairs и /help
func NewCommandResponder(engine EngineView) CommandHandler {
	return func(ctx context.Context, command string) string {
		switch strings.ToLower(command) {
		case "status":
			return formatStatus(engine.Status())
		case "pairs":
			return formatPairs(engine.Snapshot())
		case "help", "start":
			return "/status - engine state\n/pairs - open pairs"
		default:
			return ""
		}
	}
}

func formatStatus(st bot.EngineStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s trailing=%s owned=%d\n", st.Symbol, st.Trailing, st.OwnedTickets)

	if st.EntryLock.Held {
		fmt.Fprintf(&b, "entry lock: held (%s)\n", st.EntryLock.Reason)
	} else {
		b.WriteString("entry lock: free\n")
	}

	for _, s := range models.AllStates {
		if n := st.Pairs[s]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", s, n)
		}
	}

	if !st.LastReconcile.IsZero() {
		fmt.Fprintf(&b, "last reconcile: %s", st.LastReconcile.UTC().Format("15:04:05"))
	}
	if st.ReconcileError != "" {
		fmt.Fprintf(&b, "\nreconcile error: %s", st.ReconcileError)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPairs(pairs []*models.Pair) string {
	open := make([]*models.Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.State != models.StateClosed {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		return "no open pairs"
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OpenedAt.Before(open[j].OpenedAt) })

	lines := make([]string, 0, len(open))
	for _, p := range open {
		line := fmt.Sprintf("%s %s %s %s entry %.5g sl %.5g tp %.5g",
			shortID(p.ID), p.State, p.Side, p.Category, p.EntryPrice, p.InternalSL, p.TP)
		if p.PartialClosed {
			line += " partial"
		}
		if p.BreakEvenActive {
			line += " BE"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
