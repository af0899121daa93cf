// Package cli implements the interactive console of crawlspace.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/internal/events"
	"github.com/xoogware/crawlspace/internal/network"
	"github.com/xoogware/crawlspace/internal/session"
	"github.com/xoogware/crawlspace/internal/util"
)

// DefaultKickReason is shown to players kicked from the console.
const DefaultKickReason = "Kicked by an operator"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

const banner = `
                     _
  ___ _ __ __ ___      _| |___ _ __   __ _  ___ ___
 / __| '__/ _' \ \ /\ / / / __| '_ \ / _' |/ __/ _ \
| (__| | | (_| |\ V  V /| \__ \ |_) | (_| | (_|  __/
 \___|_|  \__,_| \_/\_/ |_|___/ .__/ \__,_|\___\___|
                              |_|`

// Banner renders the startup banner.
func Banner(version string) string {
	return titleStyle.Render(banner) + "\n" +
		dimStyle.Render(fmt.Sprintf(" limbo server v%s, Minecraft 1.21.1", version))
}

// StatusSource renders the server list document.
type StatusSource interface {
	Status() network.Status
}

// ConnectionCounter reports open game connections.
type ConnectionCounter interface {
	Connections() int64
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	sessions *session.Registry
	status   StatusSource
	conns    ConnectionCounter
	started  time.Time
	logger   zerolog.Logger

	in  io.Reader
	out io.Writer
}

// NewCLI creates a CLI reading stdin and writing stdout.
func NewCLI(eventBus *events.EventBus, sessions *session.Registry, status StatusSource, conns ConnectionCounter) *CLI {
	return &CLI{
		eventBus: eventBus,
		sessions: sessions,
		status:   status,
		conns:    conns,
		started:  time.Now(),
		logger:   util.ComponentLogger("cli"),
		in:       os.Stdin,
		out:      os.Stdout,
	}
}

// Start runs the command loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, dimStyle.Render("crawlspace console ready. Type 'help' for available commands."))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				c.logger.Debug().Msg("console input closed")
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "list", "p":
		c.printPlayers()
	case "kick":
		return c.cmdKick(args)
	case "kickall":
		c.cmdKickAll(args)
	case "quit", "exit", "stop", "q":
		fmt.Fprintln(c.out, "Shutting down crawlspace...")
		c.eventBus.Emit(ctx, events.Event{
			Type:    events.EventShutdown,
			Source:  "cli",
			Payload: events.ShutdownPayload{Reason: "console"},
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	rows := [][2]string{
		{"status", "Show listener and host status"},
		{"players", "List online players"},
		{"kick <name|uuid> [reason]", "Disconnect a player"},
		{"kickall [reason]", "Disconnect every player"},
		{"quit", "Shut crawlspace down"},
		{"help", "Show this help message"},
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("crawlspace commands"))
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%s  %s", commandStyle.Render(fmt.Sprintf("%-26s", r[0])), r[1])
	}
	fmt.Fprintln(c.out, boxStyle.Render(b.String()))
}

func (c *CLI) printStatus() {
	st := c.status.Status()

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Key", "Value"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	tw.Append([]string{"Version", fmt.Sprintf("%s (%d)", st.Version.Name, st.Version.Protocol)})
	tw.Append([]string{"MOTD", st.Description.Text})
	tw.Append([]string{"Players", fmt.Sprintf("%d/%d", st.Players.Online, st.Players.Max)})
	tw.Append([]string{"Connections", fmt.Sprintf("%d", c.conns.Connections())})
	tw.Append([]string{"Uptime", time.Since(c.started).Truncate(time.Second).String()})
	if cpu, err := util.GetCPUUsage(); err == nil {
		tw.Append([]string{"CPU", fmt.Sprintf("%.1f%%", cpu)})
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		tw.Append([]string{"Memory", fmt.Sprintf("%d/%d MB (%.1f%%)", mem.Used, mem.Total, mem.UsedPercent)})
	}

	tw.Render()
}

func (c *CLI) printPlayers() {
	players := c.sessions.Snapshot()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players online.")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Name", "UUID", "Remote", "Online"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range players {
		tw.Append([]string{
			p.Name,
			p.UUID.String(),
			p.Remote,
			time.Since(p.JoinedAt).Truncate(time.Second).String(),
		})
	}

	tw.Render()
	fmt.Fprintf(c.out, "%d/%d online\n", len(players), c.sessions.Max())
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <name|uuid> [reason]")
	}
	entry, ok := c.sessions.Lookup(args[0])
	if !ok {
		return fmt.Errorf("player not online: %s", args[0])
	}
	reason := DefaultKickReason
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if !c.sessions.Kick(entry.UUID, reason) {
		return fmt.Errorf("player not online: %s", args[0])
	}

	c.logger.Info().Str("player", entry.Name).Str("reason", reason).Msg("player kicked from console")
	fmt.Fprintf(c.out, "Kicked %s\n", entry.Name)
	return nil
}

func (c *CLI) cmdKickAll(args []string) {
	reason := DefaultKickReason
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}
	count := c.sessions.Count()
	c.sessions.DisconnectAll(reason)
	c.logger.Info().Int("players", count).Str("reason", reason).Msg("all players kicked from console")
	fmt.Fprintf(c.out, "Kicked %d players\n", count)
}
