// Command centralmon-trigger is a stock remediation script for daemons
// monitored by the Central Monitor. The aggregator pushes it the alarm
// payload as JSON on standard input; the trigger restarts the stopped daemon
// through the init system and, when the restart fails, notifies the contact
// list carried in the payload plus any contacts given as arguments.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/benkietzman/centralmon/internal/collector"
	"github.com/benkietzman/centralmon/internal/notify"
)

// payload is the slice of the pushed script document the trigger acts on.
type payload struct {
	Daemon   string   `json:"daemon"`
	Contacts []string `json:"contacts"`
}

func main() {
	gatewayURL := flag.String("gateway", "", "base URL of the messaging gateway for failure notifications")
	room := flag.String("room", "operations", "chat room for gateway deliveries")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	data, err := io.ReadAll(os.Stdin)
	if err != nil || len(data) == 0 {
		fmt.Fprintln(os.Stderr, "Please provide the JSON data on standard input.")
		os.Exit(1)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil || p.Daemon == "" {
		fmt.Fprintln(os.Stderr, "Please provide the daemon field in the JSON data on standard input.")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	coll := collector.NewHost(logger)
	if running(ctx, coll, p.Daemon) {
		return
	}

	stop, start := initCommands(p.Daemon)
	runCommand(ctx, logger, stop)
	runCommand(ctx, logger, start)

	if running(ctx, coll, p.Daemon) {
		return
	}

	message := fmt.Sprintf(
		"Failed to restart the %s daemon after it stopped.  Attempted starting the daemon with the following command:  %s",
		p.Daemon, strings.Join(start, " "))
	notifyContacts(ctx, logger, *gatewayURL, *room, p, message)
}

// running reports whether any instance of daemon is alive.
func running(ctx context.Context, coll collector.Collector, daemon string) bool {
	sample, err := coll.Process(ctx, daemon)
	if err != nil {
		return false
	}
	return sample.Processes > 0
}

// initCommands picks the stop and start invocations for the local init
// system: systemd when present, the service wrapper otherwise.
func initCommands(daemon string) (stop, start []string) {
	if _, err := os.Stat("/run/systemd/system"); err == nil {
		return []string{"systemctl", "stop", daemon}, []string{"systemctl", "start", daemon}
	}
	return []string{"service", daemon, "stop"}, []string{"service", daemon, "start"}
}

func runCommand(ctx context.Context, logger *slog.Logger, argv []string) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.Warn("init command failed",
			slog.String("command", strings.Join(argv, " ")),
			slog.String("output", string(out)),
			slog.Any("error", err))
	}
}

// notifyContacts merges the argument and payload contact lists and delivers
// the failure message through the gateway. A "!"-prefixed entry is a pager
// user id; anything else is an email address.
func notifyContacts(ctx context.Context, logger *slog.Logger, gatewayURL, room string, p payload, message string) {
	seen := make(map[string]bool)
	var contacts []string
	for _, c := range append(flag.Args(), p.Contacts...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		contacts = append(contacts, c)
	}
	sort.Strings(contacts)

	if gatewayURL == "" {
		fmt.Fprintln(os.Stderr, message)
		return
	}
	gateway := notify.NewGateway(gatewayURL, room)

	var emails, pagers []string
	for _, c := range contacts {
		if id, ok := strings.CutPrefix(c, "!"); ok {
			pagers = append(pagers, id)
		} else {
			emails = append(emails, c)
		}
	}
	if err := gateway.Page(ctx, pagers, "Central Monitor: "+message); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to page message.")
		logger.Warn("page failed", slog.Any("error", err))
	}
	subject := "Central Monitor:  " + p.Daemon + " daemon"
	body := "--- Central Monitor ---\n\n" + message + "\n"
	if err := gateway.Email(ctx, emails, subject, body); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to send email.")
		logger.Warn("email failed", slog.Any("error", err))
	}
}
