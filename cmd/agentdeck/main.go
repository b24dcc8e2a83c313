package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentdeck/internal/agentproc"
	"agentdeck/internal/appinfo"
	"agentdeck/internal/panellog"
	"agentdeck/internal/session"
	"agentdeck/internal/timeline"
)

func main() {
	if len(os.Args) < 2 {
		if err := runPanel(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}
	if isHelpArg(os.Args[1]) {
		printRootUsage(os.Stdout)
		return
	}

	var err error
	switch os.Args[1] {
	case "panel":
		err = runPanel(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "runs":
		err = runList(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "agents":
		err = runAgents(os.Args[2:])
	case "prune":
		err = runPrune(os.Args[2:])
	case "version":
		fmt.Println(appinfo.Display())
	default:
		err = runPanel(os.Args[1:])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runPanel(args []string) error {
	fs := flag.NewFlagSet("panel", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	app.store.Refresh(true)
	app.store.StartPolling(app.pollEvery)
	defer app.store.StopPolling()
	cancelWatch := app.store.WatchPush(app.bus)
	defer cancelWatch()

	return runPanelTUI(app)
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	agentRef := fs.String("agent", "", "agent catalog name")
	project := fs.String("project", ".", "project directory the agent works in")
	model := fs.String("model", "", "model override")
	follow := fs.Bool("follow", false, "stay attached and print the timeline")
	fs.Parse(args)

	task := fs.Arg(0)
	if task == "" {
		return fmt.Errorf("usage: %s start --agent <name> [options] <task>", binaryName())
	}

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctl := session.NewController(app.manager, app.bus, app.store, app.log)
	runID, err := ctl.Start(ctx, session.StartParams{
		AgentRef:    *agentRef,
		ProjectPath: *project,
		Task:        task,
		Model:       *model,
	})
	if err != nil {
		return err
	}
	fmt.Println(runID)

	if !*follow {
		ctl.Teardown()
		return nil
	}

	defer ctl.Teardown()
	return followRun(ctx, ctl)
}

func followRun(ctx context.Context, ctl *session.Controller) error {
	printed := 0
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			ctl.Stop(stopCtx)
			cancel()
			return nil
		case <-ticker.C:
			msgs := ctl.Timeline()
			for ; printed < len(msgs); printed++ {
				fmt.Println(renderMessageLine(msgs[printed]))
			}
			run, ok := ctl.Run()
			if !ok {
				continue
			}
			if !isActive(run.Status) {
				fmt.Printf("%s %s in %s (tokens %d/%d, $%.4f)\n",
					run.ID, run.Status, ctl.Elapsed().Round(time.Second),
					run.Metrics.TokensIn, run.Metrics.TokensOut, run.Metrics.CostUSD)
				return nil
			}
		}
	}
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	fs.Parse(args)

	runID := fs.Arg(0)
	if runID == "" {
		return fmt.Errorf("usage: %s stop <run-id>", binaryName())
	}

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if !app.manager.KillRun(ctx, runID) {
		fmt.Println("nothing to stop")
		return nil
	}
	fmt.Println("stopped", runID)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	all := fs.Bool("all", false, "include terminal runs")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	app.store.Refresh(true)
	if msg := app.store.LastError(); msg != "" {
		return fmt.Errorf("list runs: %s", msg)
	}
	runs := app.store.Runs()
	for _, run := range runs {
		if !*all && !isActive(run.Status) {
			continue
		}
		fmt.Printf("%-28s %-10s %-12s %s\n", run.ID, run.Status, run.AgentRef,
			panellog.Preview(run.Task, 60))
	}
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	format := fs.String("format", "jsonl", "jsonl or transcript")
	fs.Parse(args)

	runID := fs.Arg(0)
	if runID == "" {
		return fmt.Errorf("usage: %s export [--format jsonl|transcript] <run-id>", binaryName())
	}

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	raw, err := app.manager.GetRunOutput(runID)
	if err != nil {
		return err
	}

	switch *format {
	case "jsonl":
		fmt.Print(timeline.ExportJSONL(splitLines(raw)))
	case "transcript":
		msgs := parseStoredOutput(raw)
		fmt.Print(timeline.ExportTranscript(msgs))
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	listen := *addr
	if listen == "" {
		listen = app.cfg.ListenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.store.Refresh(true)
	app.store.StartPolling(app.pollEvery)
	defer app.store.StopPolling()
	cancelWatch := app.store.WatchPush(app.bus)
	defer cancelWatch()

	return serveGateway(ctx, app, listen)
}

func runAgents(args []string) error {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	names := app.catalog.Names()
	if len(names) == 0 {
		fmt.Println("no agents defined in", app.cfg.AgentsDir)
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	configPath := fs.String("config", "config.json", "path to config.json")
	fs.Parse(args)

	app, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	removed := app.pruner.PruneOnce(time.Now().UTC())
	fmt.Printf("pruned %d run(s)\n", removed)
	return nil
}

// parseStoredOutput rebuilds a timeline from stored raw output for export.
func parseStoredOutput(raw string) []timeline.Message {
	var msgs []timeline.Message
	now := time.Now().UTC()
	for _, line := range splitLines(raw) {
		evt, err := timeline.ParseEvent(line)
		if err != nil {
			continue
		}
		msgs = append(msgs, evt.Normalize(now))
	}
	return msgs
}

func isActive(status string) bool {
	return agentproc.IsActiveStatus(status)
}
