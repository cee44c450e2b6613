// Package cli implements the interactive operator console. It is the
// local counterpart to the REST API: the same session inspection and
// reply operations, driven from stdin.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/network"
	"github.com/rcond-project/rcond/internal/server"
	"github.com/rcond-project/rcond/internal/util"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
}

// NewCLI creates a new CLI handler.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
	}
}

// Start begins the interactive CLI loop. It returns when the context is
// cancelled, stdin reaches EOF, or the operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nrcond CLI ready. Type 'help' for available commands.")

	reader := bufio.NewReader(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("rcond> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return
			}
			log.Warn().Err(err).Msg("CLI: read error")
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if cmd == "quit" || cmd == "exit" || cmd == "q" {
			fmt.Println("Shutting down rcond...")
			c.eventBus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
			return
		}

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions", "ls":
		c.printSessions()
	case "info", "i":
		return c.cmdInfo(args)
	case "reply", "r":
		return c.cmdReply(args)
	case "close":
		return c.cmdClose(args)
	case "commands", "log":
		return c.cmdCommands(args)
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  status                      Daemon and host status")
	fmt.Println("  sessions                    List authenticated sessions")
	fmt.Println("  info <session>              Detailed view of one session")
	fmt.Println("  reply <session> <req> body  Answer a pending request")
	fmt.Println("  close <session>             Disconnect a session")
	fmt.Println("  commands [limit]            Recent audited commands")
	fmt.Println("  quit                        Shut down rcond")
	fmt.Println()
}

// printStatus shows daemon uptime, session counts, and host load.
func (c *CLI) printStatus() {
	rcon := c.cfg.GetRcon()
	uptime := time.Since(c.manager.StartedAt()).Round(time.Second)

	fmt.Printf("\n  Listening:  %s:%d\n", rcon.Host, rcon.Port)
	fmt.Printf("  Uptime:     %s\n", uptime)
	fmt.Printf("  Sessions:   %d\n", c.manager.SessionCount())
	fmt.Printf("  Pending:    %d\n", c.manager.PendingCount())

	if cpu, err := util.GetCPUUsage(); err == nil {
		fmt.Printf("  CPU:        %.1f%%\n", cpu)
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		fmt.Printf("  Memory:     %.1f%% of %d MB\n", mem.UsedPercent, mem.Total)
	}
	fmt.Println()
}

// printSessions lists every active session in a table.
func (c *CLI) printSessions() {
	sessions := c.manager.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No active sessions")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Remote", "Connected", "Pending", "Requests", "Replies"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		tw.Append([]string{
			fmt.Sprintf("%d", s.ID),
			s.RemoteAddr,
			s.ConnectedAt.Format("15:04:05"),
			fmt.Sprintf("%d", len(s.Pending)),
			fmt.Sprintf("%d", s.Requests),
			fmt.Sprintf("%d", s.Replies),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdInfo(args []string) error {
	id, err := parseSessionArg(args)
	if err != nil {
		return err
	}

	info, err := c.manager.Session(id)
	if err != nil {
		if errors.Is(err, network.ErrSessionNotFound) {
			return fmt.Errorf("session %d not found", id)
		}
		return err
	}

	fmt.Printf("\n  Session:       %d\n", info.ID)
	fmt.Printf("  Remote:        %s\n", info.RemoteAddr)
	fmt.Printf("  Connected:     %s\n", info.ConnectedAt.Format(time.RFC3339))
	fmt.Printf("  Last activity: %s\n", info.LastActivity.Format(time.RFC3339))
	fmt.Printf("  Requests:      %d\n", info.Requests)
	fmt.Printf("  Replies:       %d\n", info.Replies)

	if len(info.Pending) > 0 {
		fmt.Println("  Pending:")
		for _, p := range info.Pending {
			age := time.Since(p.ReceivedAt).Round(time.Second)
			fmt.Printf("    [%d] %q (%s ago)\n", p.RequestID, p.Body, age)
		}
	}
	fmt.Println()
	return nil
}

func (c *CLI) cmdReply(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: reply <session> <request-id> [body]")
	}

	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", args[0])
	}

	requestID, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid request id: %s", args[1])
	}

	body := strings.Join(args[2:], " ")

	if err := c.manager.Reply(id, int32(requestID), body); err != nil {
		return err
	}
	fmt.Printf("Replied to request %d on session %d\n", requestID, id)
	return nil
}

func (c *CLI) cmdClose(args []string) error {
	id, err := parseSessionArg(args)
	if err != nil {
		return err
	}

	c.manager.CloseSession(id)
	fmt.Printf("Close requested for session %d\n", id)
	return nil
}

// cmdCommands lists recently audited commands, newest first.
func (c *CLI) cmdCommands(args []string) error {
	audit := c.manager.Audit()
	if audit == nil {
		return fmt.Errorf("command audit is disabled")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit: %s", args[0])
		}
		limit = n
	}

	records, err := audit.RecentCommands(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No commands recorded")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Time", "Session", "Request", "Body", "Replied"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		replied := "-"
		if r.RepliedAt != nil {
			replied = r.RepliedAt.Format("15:04:05")
		}
		tw.Append([]string{
			r.ReceivedAt.Format("15:04:05"),
			fmt.Sprintf("%d", r.SessionID),
			fmt.Sprintf("%d", r.RequestID),
			r.Body,
			replied,
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func parseSessionArg(args []string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("session id required")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid session id: %s", args[0])
	}
	return id, nil
}
