package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raisekit/outreach-orchestrator/internal/batch"
	"github.com/raisekit/outreach-orchestrator/internal/config"
	"github.com/raisekit/outreach-orchestrator/internal/domain"
	"github.com/raisekit/outreach-orchestrator/internal/driver"
	"github.com/raisekit/outreach-orchestrator/internal/driverpool"
	"github.com/raisekit/outreach-orchestrator/internal/engine"
	"github.com/raisekit/outreach-orchestrator/internal/notify"
	"github.com/raisekit/outreach-orchestrator/internal/orchestrator"
	"github.com/raisekit/outreach-orchestrator/internal/pipeline"
	"github.com/raisekit/outreach-orchestrator/internal/store"
	"github.com/raisekit/outreach-orchestrator/internal/watchdog"
	"github.com/raisekit/outreach-orchestrator/web/api"
)

var (
	runMode       string
	runInitiator  string
	listStatus    string
	listWorkspace string
	actionActor   string
	rejectReason  string
	servePort     int

	firmWorkspace    string
	firmName         string
	firmWebsite      string
	firmContactName  string
	firmContactEmail string
)

func init() {
	// workspace commands
	workspaceCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage workspaces",
	}
	workspaceAddCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkspaceAdd,
	}
	workspaceListCmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE:  runWorkspaceList,
	}
	workspaceCmd.AddCommand(workspaceAddCmd, workspaceListCmd)
	rootCmd.AddCommand(workspaceCmd)

	// firm commands
	firmCmd := &cobra.Command{
		Use:   "firm",
		Short: "Manage target firms",
	}
	firmAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a target firm to a workspace",
		RunE:  runFirmAdd,
	}
	firmAddCmd.Flags().StringVar(&firmWorkspace, "workspace", "", "workspace ID")
	firmAddCmd.Flags().StringVar(&firmName, "name", "", "firm name")
	firmAddCmd.Flags().StringVar(&firmWebsite, "website", "", "firm website")
	firmAddCmd.Flags().StringVar(&firmContactName, "contact-name", "", "contact name")
	firmAddCmd.Flags().StringVar(&firmContactEmail, "contact-email", "", "contact email")
	firmAddCmd.MarkFlagRequired("workspace")
	firmAddCmd.MarkFlagRequired("name")
	firmListCmd := &cobra.Command{
		Use:   "list",
		Short: "List firms in a workspace",
		RunE:  runFirmList,
	}
	firmListCmd.Flags().StringVar(&firmWorkspace, "workspace", "", "workspace ID")
	firmListCmd.MarkFlagRequired("workspace")
	firmCmd.AddCommand(firmAddCmd, firmListCmd)
	rootCmd.AddCommand(firmCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run WORKSPACE [FIRM...]",
		Short: "Run the outreach pipeline over a workspace's firms",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runMode, "mode", "", "simulation or live (default from config)")
	runCmd.Flags().StringVar(&runInitiator, "initiator", "cli", "who started this run")
	rootCmd.AddCommand(runCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// requests command
	requestsCmd := &cobra.Command{
		Use:   "requests",
		Short: "List submission requests",
		RunE:  runRequests,
	}
	requestsCmd.Flags().StringVar(&listWorkspace, "workspace", "", "workspace ID")
	requestsCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	requestsCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(requestsCmd)

	// approve command
	approveCmd := &cobra.Command{
		Use:   "approve REQUEST...",
		Short: "Approve submission requests and execute them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runApprove,
	}
	approveCmd.Flags().StringVar(&actionActor, "by", "", "approver name")
	approveCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(approveCmd)

	// reject command
	rejectCmd := &cobra.Command{
		Use:   "reject REQUEST",
		Short: "Reject a submission request",
		Args:  cobra.ExactArgs(1),
		RunE:  runReject,
	}
	rejectCmd.Flags().StringVar(&actionActor, "by", "", "operator name")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "rejection reason")
	rejectCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(rejectCmd)

	// campaigns command
	campaignsCmd := &cobra.Command{
		Use:   "campaigns",
		Short: "List scheduled campaigns",
		RunE:  runCampaigns,
	}
	rootCmd.AddCommand(campaignsCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, watchdog, and campaign scheduler",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.General.DatabasePath)
}

func resolveMode(cfg *config.Config, flag string) (domain.Mode, error) {
	s := flag
	if s == "" {
		s = cfg.General.DefaultMode
	}
	switch s {
	case string(domain.ModeSimulation):
		return domain.ModeSimulation, nil
	case string(domain.ModeLive):
		return domain.ModeLive, nil
	default:
		return "", fmt.Errorf("unknown mode %q, want simulation or live", s)
	}
}

func senderFromConfig(cfg *config.Config) pipeline.Sender {
	return pipeline.Sender{
		ContactName:  cfg.Sender.Name,
		ContactEmail: cfg.Sender.Email,
		CompanyName:  cfg.Sender.Company,
		Website:      cfg.Sender.Website,
		RaiseAmount:  cfg.Sender.RaiseAmount,
		PitchSummary: cfg.Sender.PitchSummary,
	}
}

func runWorkspaceAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ws := &domain.Workspace{
		ID:        uuid.NewString(),
		Name:      args[0],
		CreatedAt: time.Now(),
	}
	if err := st.CreateWorkspace(ws); err != nil {
		return err
	}
	fmt.Printf("Created workspace %s (%s)\n", ws.Name, ws.ID)
	return nil
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	workspaces, err := st.ListWorkspaces()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED")
	for _, ws := range workspaces {
		fmt.Fprintf(w, "%s\t%s\t%s\n", ws.ID, ws.Name, ws.CreatedAt.Format("2006-01-02"))
	}
	w.Flush()
	return nil
}

func runFirmAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.GetWorkspace(firmWorkspace); err != nil {
		return err
	}

	now := time.Now()
	f := &domain.Firm{
		ID:           uuid.NewString(),
		WorkspaceID:  firmWorkspace,
		Name:         firmName,
		Website:      firmWebsite,
		ContactName:  firmContactName,
		ContactEmail: firmContactEmail,
		Status:       domain.FirmPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.UpsertFirm(f); err != nil {
		return err
	}
	fmt.Printf("Added firm %s (%s)\n", f.Name, f.ID)
	return nil
}

func runFirmList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	firms, err := st.ListFirms(firmWorkspace)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tWEBSITE")
	for _, f := range firms {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Name, f.Status, f.Website)
	}
	w.Flush()
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mode, err := resolveMode(cfg, runMode)
	if err != nil {
		return err
	}

	orch := orchestrator.New(st, pipeline.Builtin(), senderFromConfig(cfg), cfg.Engine.MaxAttempts)
	run, err := orch.CreateRun(cmd.Context(), runInitiator, args[0], mode, args[1:])
	if err != nil {
		return err
	}

	fmt.Printf("Run %s %s: %d firms, %d prepared, %d diverted to review\n",
		run.ID, run.Status, run.Total, run.Success, run.Failed)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	workspaces, err := st.ListWorkspaces()
	if err != nil {
		return err
	}

	for _, ws := range workspaces {
		firms, err := st.ListFirms(ws.ID)
		if err != nil {
			return err
		}
		requests, err := st.ListRequests(store.RequestListOptions{WorkspaceID: ws.ID})
		if err != nil {
			return err
		}

		byStatus := make(map[domain.RequestStatus]int)
		for _, r := range requests {
			byStatus[r.Status]++
		}

		fmt.Printf("%s: %d firms | %d requests (%d pending approval, %d executing, %d pending retry, %d completed, %d failed)\n",
			ws.Name, len(firms), len(requests),
			byStatus[domain.RequestPendingApproval],
			byStatus[domain.RequestExecuting],
			byStatus[domain.RequestPendingRetry],
			byStatus[domain.RequestCompleted],
			byStatus[domain.RequestFailed])
	}
	return nil
}

func runRequests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	requests, err := st.ListRequests(store.RequestListOptions{
		WorkspaceID: listWorkspace,
		Status:      domain.RequestStatus(listStatus),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFIRM\tSTATUS\tATTEMPTS\tNOTE")
	for _, r := range requests {
		note := r.ResultNote
		if len(note) > 60 {
			note = note[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			r.ID, r.FirmID, r.Status, r.ExecutionAttempts, r.MaxAttempts, note)
	}
	w.Flush()
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng := newEngine(cfg, st, driver.Simulator{})

	for _, id := range args {
		now := time.Now()
		req, err := st.UpdateRequest(id, func(r *domain.SubmissionRequest) error {
			return r.Approve(actionActor, now)
		})
		if err != nil {
			fmt.Printf("%s: %v\n", id, err)
			continue
		}

		updated, outcome, err := eng.Execute(cmd.Context(), req.WorkspaceID, req.ID)
		if err != nil {
			fmt.Printf("%s: execution failed: %v\n", id, err)
			continue
		}
		fmt.Printf("%s: %s (%s)\n", id, updated.Status, outcome.Status)
	}
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	req, err := st.UpdateRequest(args[0], func(r *domain.SubmissionRequest) error {
		return r.Reject(actionActor, rejectReason, now)
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", req.ID, req.Status)
	return nil
}

func runCampaigns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configs, err := batch.LoadCampaignDir(cfg.General.CampaignsDir)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Println("No scheduled campaigns")
		return nil
	}

	sched, err := batch.NewScheduler(configs)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tWORKSPACE\tMODE\tNEXT RUN")
	for _, c := range configs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.Cron, c.Workspace, c.Mode,
			sched.NextRun(c.Name).Format(time.RFC3339))
	}
	w.Flush()
	return nil
}

func newEngine(cfg *config.Config, st *store.Store, drv driver.Driver) *engine.Engine {
	eng := engine.New(st, drv, engine.Config{
		DefaultMaxAttempts: cfg.Engine.MaxAttempts,
		RetryDelay:         cfg.RetryDelay(),
	})
	notifiers := []notify.Notifier{notify.NewDesktopNotifier(cfg.Notifications.Desktop)}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	eng.SetNotifier(notify.NewMultiNotifier(notifiers...))
	return eng
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Submission driver: worker pool when enabled, local simulator
	// otherwise. The pool falls back to the local driver with no
	// workers connected, so enabling it is safe on a single host.
	mode, err := resolveMode(cfg, "")
	if err != nil {
		return err
	}
	var drv driver.Driver = driver.Simulator{}
	if cfg.Pool.Enabled {
		registry := driverpool.NewRegistry()
		dispatcher := driverpool.NewDispatcher(registry, driverpool.EmbeddedFallback(driver.Simulator{}, mode))
		coordinator := driverpool.NewCoordinator(driverpool.CoordinatorConfig{
			ListenAddr: cfg.Pool.ListenAddr,
			AuthToken:  cfg.Pool.AuthToken,
		}, registry, dispatcher)
		go func() {
			if err := coordinator.Start(ctx); err != nil {
				log.Printf("coordinator stopped: %v", err)
			}
		}()
		defer coordinator.Stop()
		drv = driverpool.NewPoolDriver(dispatcher, mode)
	}

	eng := newEngine(cfg, st, drv)

	// Watchdog recovers stale executions and promotes due retries
	wd := watchdog.New(st, eng, watchdog.Config{
		SweepInterval:  cfg.SweepInterval(),
		StaleAfter:     cfg.StaleAfter(),
		RetryBatchSize: cfg.Watchdog.RetryBatchSize,
	})
	go wd.Start(ctx)
	defer wd.Stop()

	// Scheduled campaigns
	campaigns, err := batch.LoadCampaignDir(cfg.General.CampaignsDir)
	if err != nil {
		return err
	}
	if len(campaigns) > 0 {
		sched, err := batch.NewScheduler(campaigns)
		if err != nil {
			return err
		}
		orch := orchestrator.New(st, pipeline.Builtin(), senderFromConfig(cfg), cfg.Engine.MaxAttempts)
		go sched.Start(func(c batch.CampaignConfig) error {
			mode, err := resolveMode(cfg, c.Mode)
			if err != nil {
				return err
			}
			firms := c.Firms
			if c.MaxFirms > 0 && len(firms) > c.MaxFirms {
				firms = firms[:c.MaxFirms]
			}
			run, err := orch.CreateRun(ctx, "campaign:"+c.Name, c.Workspace, mode, firms)
			if err != nil {
				return err
			}
			log.Printf("campaign %s: run %s finished (%d/%d prepared)", c.Name, run.ID, run.Success, run.Total)
			return nil
		})
		defer sched.Stop()
		log.Printf("campaign scheduler started with %d campaigns", len(campaigns))
	}

	// Config hot-reload for watchdog tunables
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	watcher, err := config.NewWatcher(cfgPath, func(updated *config.Config) {
		wd.UpdateConfig(watchdog.Config{
			SweepInterval:  updated.SweepInterval(),
			StaleAfter:     updated.StaleAfter(),
			RetryBatchSize: updated.Watchdog.RetryBatchSize,
		})
		log.Printf("config reloaded, watchdog tunables updated")
	})
	if err != nil {
		log.Printf("config watcher unavailable: %v", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)

	server := api.NewServer(st, eng, addr)
	eng.SetEventSink(func(e *domain.Event) {
		server.Broadcast(api.SSEEvent{Type: "channel_event", Data: e})
	})

	fmt.Printf("Starting API server at http://%s\n", addr)
	return server.Start()
}
