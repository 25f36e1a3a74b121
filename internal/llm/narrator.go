package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"

	"github.com/talgya/macrosim/internal/metrics"
)

const systemPrompt = "You are an economic journalist for a real-time markets news feed. " +
	"Write two short, vivid sentences: the first on business activity " +
	"(growth, firms, demand); the second on policy or sentiment."

// Narrator turns the latest indicators into a two-sentence market-news
// alert. Responses are cached by prompt, so a repeated state costs nothing.
type Narrator struct {
	client *Client
	cache  *lru.Cache
}

// NewNarrator wraps client. A nil or disabled client yields the template
// narrative for every call.
func NewNarrator(client *Client, cacheSize int) (*Narrator, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("narrative cache: %w", err)
	}
	return &Narrator{client: client, cache: cache}, nil
}

// Narrate returns a model-written headline for current, comparing it with
// the previous period in history.
func (n *Narrator) Narrate(ctx context.Context, current metrics.Snapshot, history map[string][]float64) (string, error) {
	if !n.client.Enabled() {
		return Fallback(current, history), nil
	}

	prompt := buildPrompt(current, history)
	if v, ok := n.cache.Get(prompt); ok {
		return v.(string), nil
	}

	text, err := n.client.Complete(ctx, systemPrompt, prompt, 160)
	if err != nil {
		return "", fmt.Errorf("narrate step %d: %w", current.Step, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("narrate step %d: empty text", current.Step)
	}

	n.cache.Add(prompt, text)
	slog.Debug("narrative generated", "step", current.Step, "chars", len(text))
	return text, nil
}

func buildPrompt(s metrics.Snapshot, history map[string][]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Latest data: GDP $%s, unemployment %.1f%%, inflation %.2f%%, policy rate %.2f%%. ",
		money(s.GDP), s.Unemployment, s.Inflation, s.InterestRate)
	fmt.Fprintf(&b, "Budget balance is %s. ", signedMoney(s.BudgetBalance))
	b.WriteString("Compare against the prior step. ")
	b.WriteString("Highlight the most notable move using press-style framing. ")
	b.WriteString("Summaries must fit in two sentences and feel like a market-news alert.\n")

	gdpPrev, _ := previous(history, "gdp")
	uPrev, _ := previous(history, "unemployment")
	pPrev, _ := previous(history, "inflation")
	fmt.Fprintf(&b, "GDP trend: %s. ", describeChange(s.GDP, gdpPrev, false))
	fmt.Fprintf(&b, "Labour trend: %s. ", describeChange(s.Unemployment, uPrev, true))
	fmt.Fprintf(&b, "Price trend: %s.", describeChange(s.Inflation, pPrev, false))
	return b.String()
}

// describeChange names the size and direction of a move in press terms.
// inverse flips the direction words for series where a fall is good news.
func describeChange(cur, prev float64, inverse bool) string {
	if prev == 0 {
		return "no prior reading"
	}
	pct := (cur - prev) / math.Abs(prev) * 100
	mag := math.Abs(pct)
	if mag < 0.2 {
		return "steady"
	}

	up := pct > 0
	if inverse {
		up = !up
	}
	dir := "lower"
	if up {
		dir = "higher"
	}

	switch {
	case mag < 1.0:
		return fmt.Sprintf("edging %s (%+.1f%%)", dir, pct)
	case mag < 3.0:
		return fmt.Sprintf("moving %s (%+.1f%%)", dir, pct)
	case up:
		return fmt.Sprintf("surging (%+.1f%%)", pct)
	default:
		return fmt.Sprintf("sliding (%+.1f%%)", pct)
	}
}

// previous returns the reading before the latest one in a history series.
func previous(history map[string][]float64, name string) (float64, bool) {
	xs := history[name]
	if len(xs) < 2 {
		return 0, false
	}
	return xs[len(xs)-2], true
}

func money(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func signedMoney(v float64) string {
	if v < 0 {
		return "-$" + money(-v)
	}
	return "$" + money(v)
}
