package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/msageha/statusd/internal/daemon"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/setup"
	"github.com/msageha/statusd/internal/status"
	"github.com/msageha/statusd/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	setup.Version = version

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "submit":
		runSubmit(os.Args[2:])
	case "pref":
		runPref(os.Args[2:])
	case "kick":
		runSimple(uds.CommandKick)
	case "stop":
		runSimple(uds.CommandShutdown)
	case "status":
		runStatus(os.Args[2:])
	case "listeners":
		runListeners(os.Args[2:])
	case "version":
		fmt.Printf("statusd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: statusd setup <project_dir> [--account <name>]")
		os.Exit(1)
	}
	projectDir := args[0]
	var account string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--account":
			account = requireValue(rest, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}
	if err := setup.Run(projectDir, account); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(projectDir)
	fmt.Printf("Initialized %s/ in %s\n", setup.DirName, absDir)
}

func runDaemon(_ []string) {
	dir := mustFindDir()
	cfg, err := setup.LoadConfig(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	d, err := daemon.New(dir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSubmit(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: statusd submit <kind> [--id N] [--status TEXT] [--reply-to N] [--param KEY=VALUE]...")
		os.Exit(1)
	}
	kind := model.ParseKind(args[0])
	if kind == model.KindUnknown {
		fmt.Fprintf(os.Stderr, "unknown command kind: %s\nknown kinds: %s\n", args[0], knownKinds())
		os.Exit(1)
	}

	p := uds.SubmitParams{Kind: kind.String(), Params: map[string]any{}}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--id":
			p.ItemID = parseInt(rest[i], requireValue(rest, &i))
		case "--status":
			p.Params[model.ParamStatus] = requireValue(rest, &i)
		case "--reply-to":
			p.Params[model.ParamInReplyToID] = parseInt(rest[i], requireValue(rest, &i))
		case "--param":
			kv := requireValue(rest, &i)
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				fmt.Fprintf(os.Stderr, "invalid --param %q (want KEY=VALUE)\n", kv)
				os.Exit(1)
			}
			p.Params[k] = parseScalar(v)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}
	send(uds.CommandSubmit, p)
}

// runPref writes one preference. The kind of put command follows the
// value: true/false, an integer, or anything else as a string.
func runPref(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: statusd pref <key> <value> [--scope ACCOUNT]")
		os.Exit(1)
	}
	var scope string
	rest := args[2:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--scope":
			scope = requireValue(rest, &i)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
	}
	cmd, err := model.NewPutPreference(scope, args[0], parseScalar(args[1]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pref: %v\n", err)
		os.Exit(1)
	}
	send(uds.CommandSubmit, uds.SubmitParams{Kind: cmd.Kind.String(), Params: cmd.Params()})
}

func runSimple(command string) {
	send(command, nil)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: statusd status [--json]\n", a)
			os.Exit(1)
		}
	}
	if err := status.Run(mustFindDir(), jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runListeners(_ []string) {
	client := uds.NewClient(filepath.Join(mustFindDir(), uds.DefaultSocketName))
	var res uds.ListenersResult
	if err := client.Call(uds.CommandListeners, nil, &res); err != nil {
		fmt.Fprintf(os.Stderr, "listeners: %v\n", err)
		os.Exit(1)
	}
	if len(res.IDs) == 0 {
		fmt.Println("no listeners")
		return
	}
	for _, id := range res.IDs {
		fmt.Println(id)
	}
}

func send(command string, params any) {
	client := uds.NewClient(filepath.Join(mustFindDir(), uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
	if !resp.Success {
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", command, resp.Error)
		}
		os.Exit(1)
	}
	if len(resp.Data) > 0 {
		var pretty map[string]any
		if json.Unmarshal(resp.Data, &pretty) == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Println(string(resp.Data))
	}
}

func requireValue(args []string, i *int) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", args[*i])
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func parseInt(flag, s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s value: %s\n", flag, s)
		os.Exit(1)
	}
	return n
}

func parseScalar(s string) any {
	if s == "true" || s == "false" {
		return s == "true"
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func knownKinds() string {
	kinds := model.KnownKinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	return strings.Join(names, ", ")
}

func mustFindDir() string {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}
	dir := setup.FindDir(wd)
	if dir == "" {
		fmt.Fprintf(os.Stderr, "error: %s/ directory not found. Run 'statusd setup <dir>' first.\n", setup.DirName)
		os.Exit(1)
	}
	return dir
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `statusd %s - background command dispatcher

Usage: statusd <command> [options]

Lifecycle:
  setup <dir> [--account NAME]   Initialize .statusd/ directory
  daemon                         Run the daemon in the foreground
  stop                           Ask the daemon to shut down (queues are saved)
  status [--json]                Show daemon and queue status

Commands (CLI -> daemon):
  submit <kind> [flags]          Submit a command
      --id N                     Item id
      --status TEXT              Status text (update-status)
      --reply-to N               In-reply-to item id (update-status)
      --param KEY=VALUE          Extra parameter, repeatable
  pref <key> <value> [--scope A] Write a preference
  kick                           Run pending work now
  listeners                      List registered listeners

Other:
  version                        Show version
  help                           Show this help

`, version)
}
