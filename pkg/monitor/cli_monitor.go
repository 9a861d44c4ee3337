package monitor

import (
	"fmt"
	"io"
	"os"
)

// CLIMonitor prints execution activity to the terminal.
type CLIMonitor struct {
	writer io.Writer
}

func NewCLIMonitor() *CLIMonitor {
	return &CLIMonitor{
		writer: os.Stdout,
	}
}

func (m *CLIMonitor) Start() error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "CLI Monitor Active - component executions will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

// OnExecution displays one execution line, gray timestamp first.
func (m *CLIMonitor) OnExecution(ev ExecutionEvent) {
	timestamp := ev.Timestamp.Format("2006-01-02 15:04:05")

	status := ev.Action
	if ev.Error != "" {
		status = fmt.Sprintf("error: %s", ev.Error)
	}
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m [%s] %s (%s) -> %s\n",
		timestamp, ev.Component, ev.TriggerID, ev.Schema, status)
}
