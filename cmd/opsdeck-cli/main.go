// Command opsdeck-cli is an interactive console for poking at the gateway.
//
// Usage:
//
//	opsdeck-cli -url ws://gateway:9100/ws [flags]
//
// Flags:
//
//	-config string    Configuration file path
//	-url string       Gateway websocket URL (overrides config)
//	-role string      Requested role (overrides config)
//	-data-dir string  Directory for identity and token files
//
// Commands:
//
//	status                     Show the connection state
//	req <method> [json-params] Send a request and print the response
//	events [n]                 Show the last n received events (default 10)
//	help                       Show command help
//	quit                       Exit
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/opsdeck/opsdeck-go/pkg/config"
	"github.com/opsdeck/opsdeck-go/pkg/gateway"
	"github.com/opsdeck/opsdeck-go/pkg/identity"
	"github.com/opsdeck/opsdeck-go/pkg/store"
	"github.com/opsdeck/opsdeck-go/pkg/token"
	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

var (
	configPath = flag.String("config", "", "configuration file path")
	urlFlag    = flag.String("url", "", "gateway websocket URL (overrides config)")
	roleFlag   = flag.String("role", "", "requested role (overrides config)")
	dataDir    = flag.String("data-dir", "", "directory for identity and token files")
)

// console is the interactive session state.
type console struct {
	conn   *gateway.Connection
	events *store.EventLog
	rl     *readline.Instance
}

// OnStatus prints state transitions above the prompt.
func (c *console) OnStatus(status gateway.Status) {
	if status.Err != nil {
		fmt.Fprintf(c.rl.Stdout(), "! %s: %v\n", status.Phase, status.Err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "* %s\n", status.Phase)
}

// OnEvent records events for the events command.
func (c *console) OnEvent(event *wire.Event) {
	c.events.Append(event.Event, event.Payload)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.GatewayURL = *urlFlag
	}
	if *roleFlag != "" {
		cfg.Role = *roleFlag
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if cfg.GatewayURL == "" {
		fmt.Fprintln(os.Stderr, "no gateway URL configured; pass -url or set OPSDECK_GATEWAY_URL")
		os.Exit(1)
	}

	id, err := identity.NewStore(cfg.DataDir).LoadOrCreate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load device identity: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "opsdeck> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	c := &console{events: store.NewEventLog(0), rl: rl}
	c.conn = gateway.New(gateway.Config{
		URL:            cfg.GatewayURL,
		Role:           cfg.Role,
		Scopes:         cfg.Scopes,
		AuthToken:      cfg.AuthToken,
		ClientID:       cfg.ClientID,
		ClientMode:     cfg.ClientMode,
		ReconnectDelay: cfg.ReconnectDelay.Std(),
	}, id, token.NewStore(cfg.DataDir), c, nil)

	fmt.Fprintf(rl.Stdout(), "connecting to %s as %s (device %s)\n",
		cfg.GatewayURL, cfg.Role, shortID(id.DeviceID))
	c.conn.Start()
	defer c.conn.Stop()

	c.run()
}

// run is the command loop.
func (c *console) run() {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			// EOF
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "status":
			c.cmdStatus()

		case "req":
			c.cmdReq(args)

		case "events":
			c.cmdEvents(args)

		case "quit", "exit", "q":
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "unknown command %q, try help\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `Commands:
  status                     Show the connection state
  req <method> [json-params] Send a request and print the response
  events [n]                 Show the last n received events (default 10)
  quit                       Exit
`)
}

func (c *console) cmdStatus() {
	fmt.Fprintf(c.rl.Stdout(), "state: %s\n", c.conn.State())
}

func (c *console) cmdReq(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "usage: req <method> [json-params]")
		return
	}
	method := args[0]

	var params any
	if len(args) > 1 {
		raw := strings.Join(args[1:], " ")
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			fmt.Fprintf(c.rl.Stdout(), "invalid params: %v\n", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	payload, err := c.conn.Request(ctx, method, params)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "error: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), formatPayload(payload))
}

func (c *console) cmdEvents(args []string) {
	n := 10
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			fmt.Fprintln(c.rl.Stdout(), "usage: events [n]")
			return
		}
		n = parsed
	}

	entries := c.events.Snapshot()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "no events received")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(c.rl.Stdout(), "%6d  %s  %-24s %s\n",
			e.Seq, e.ReceivedAt.Format("15:04:05"), e.Event, formatPayload(e.Payload))
	}
}

// formatPayload pretty-prints a JSON payload, or "(empty)" when absent.
func formatPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return "(empty)"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return string(payload)
	}
	return buf.String()
}

// shortID abbreviates a device id for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
