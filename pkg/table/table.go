package table

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"

	"github.com/tg4nd4lf/ssh-template/pkg/sshutils"
)

const (
	HostWidth    = 30
	CommandWidth = 40
)

// ResultTable summarises command runs, one row per command.
type ResultTable struct {
	table *tablewriter.Table
	rows  int
}

func NewResultTable(w io.Writer) *ResultTable {
	if w == nil {
		w = os.Stdout
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Host", "Command", "Exit", "Stdout", "Stderr", "Duration"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)

	return &ResultTable{table: table}
}

// AddResult appends a row for result. A negative exit status means the command never
// reported one (timeout or lost channel).
func (rt *ResultTable) AddResult(host string, result *sshutils.CommandResult) {
	exit := "-"
	if result.ExitStatus() >= 0 {
		exit = strconv.Itoa(result.ExitStatus())
	}

	rt.table.Append([]string{
		truncate(host, HostWidth),
		truncate(oneLine(result.Command()), CommandWidth),
		exit,
		strconv.Itoa(len(result.Stdout())),
		strconv.Itoa(len(result.Stderr())),
		result.Duration().Round(time.Millisecond).String(),
	})
	rt.rows++
}

func (rt *ResultTable) Len() int {
	return rt.rows
}

func (rt *ResultTable) Render() {
	rt.table.Render()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most maxWidth terminal columns without splitting a rune.
func truncate(s string, maxWidth int) string {
	return runewidth.Truncate(s, maxWidth, "...")
}
