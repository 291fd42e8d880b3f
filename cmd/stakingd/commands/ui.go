package commands

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/moltbunker/tierstake/internal/payment"
)

// StatusBox renders a titled box with key-value fields.
//
//	StatusBox("Wallet", [][2]string{{"Address", "0xabc..."}})
func StatusBox(title string, fields [][2]string) string {
	if !isTTY() {
		return statusBoxPlain(title, fields)
	}

	var sb strings.Builder
	sb.WriteString(StyleHeader.Render(title))
	sb.WriteString("\n")
	for _, f := range fields {
		sb.WriteString(StyleLabel.Render(f[0]) + StyleValue.Render(f[1]) + "\n")
	}
	return StyleBox.Render(strings.TrimRight(sb.String(), "\n"))
}

func statusBoxPlain(title string, fields [][2]string) string {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("=", len(title)) + "\n")
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("%-16s %s\n", f[0]+":", f[1]))
	}
	return sb.String()
}

// RenderTable renders a styled table with headers and rows.
func RenderTable(headers []string, rows [][]string) string {
	if !isTTY() {
		return renderTablePlain(headers, rows)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorDim)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleTableHeader
			}
			if row%2 == 0 {
				return StyleTableRow
			}
			return StyleTableRowAlt
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

func renderTablePlain(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], h))
	}
	sb.WriteString("\n")
	for i, w := range widths {
		sb.WriteString(strings.Repeat("-", w))
		if i < len(widths)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], cell))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Success prints a success message.
func Success(msg string) {
	if isTTY() {
		fmt.Println(StyleSuccess.Render("  " + msg))
	} else {
		fmt.Println("[OK] " + msg)
	}
}

// Warning prints a warning message.
func Warning(msg string) {
	if isTTY() {
		fmt.Println(StyleWarning.Render("  " + msg))
	} else {
		fmt.Println("[WARN] " + msg)
	}
}

// Info prints an informational message.
func Info(msg string) {
	if isTTY() {
		fmt.Println(StyleInfo.Render("  " + msg))
	} else {
		fmt.Println("[INFO] " + msg)
	}
}

// Hint renders a dim suggestion.
func Hint(msg string) string {
	if !isTTY() {
		return "  " + msg
	}
	return "  " + StyleDim.Render(msg)
}

// WithSpinner runs a function while showing a spinner with the given message.
// Returns the error from the function.
func WithSpinner(msg string, fn func() error) error {
	if jsonOutput() {
		return fn()
	}
	if !isTTY() {
		fmt.Printf("%s...\n", msg)
		return fn()
	}

	var fnErr error
	err := spinner.New().
		Title(msg).
		Action(func() {
			fnErr = fn()
		}).
		Run()

	if err != nil {
		return err
	}
	return fnErr
}

// jsonOutput reports whether --output json was given.
func jsonOutput() bool {
	return OutputFormat == "json"
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// FormatTokens renders base units as whole tokens with thousands separators.
func FormatTokens(amount *big.Int) string {
	s := payment.FormatTokenAmount(amount)
	whole, frac, _ := strings.Cut(s, ".")
	return addThousandsSep(whole) + "." + frac
}

// ParseTokens reads a decimal token amount such as "1500" or "12.5".
func ParseTokens(s string) (*big.Int, error) {
	v, err := payment.ParseTokenAmount(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return v, nil
}

// FormatBps renders basis points as a percentage.
func FormatBps(bps uint64) string {
	return fmt.Sprintf("%d.%02d%%", bps/100, bps%100)
}

// FormatDuration renders seconds in days, hours and minutes.
func FormatDuration(secs uint64) string {
	if secs == 0 {
		return "0s"
	}
	d := time.Duration(secs) * time.Second
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	switch {
	case days > 0 && d == 0:
		return fmt.Sprintf("%dd", days)
	case days > 0:
		return fmt.Sprintf("%dd %s", days, d.Truncate(time.Minute))
	default:
		return d.String()
	}
}

// FormatTime renders a unix timestamp, or "never" for zero.
func FormatTime(unix int64) string {
	if unix == 0 {
		return "never"
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatAddress truncates an Ethereum address for display.
func FormatAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func addThousandsSep(s string) string {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if len(s) <= 3 {
		if negative {
			return "-" + s
		}
		return s
	}

	var result strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}
	if negative {
		return "-" + result.String()
	}
	return result.String()
}
