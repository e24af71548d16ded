package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"payticket-backend/internal/providers/portalapi"
	"payticket-backend/internal/providers/portalpage"
	"payticket-backend/internal/ticket"
	"payticket-backend/internal/worker"
	"payticket-backend/pkg/restydump"

	"github.com/spf13/cobra"
)

var (
	workProvider *string
	workServer   *string
	workDump     *string
)

func init() {
	workProvider = workCmd.Flags().String("provider", "", "How tickets are looked up: api or page, overrides worker.provider.")
	workServer = workCmd.Flags().String("server", "", "The queue server to work for, overrides worker.server_url.")
	workDump = workCmd.Flags().String("dump", "", "Write a transcript of every portal exchange to this directory.")
	rootCmd.AddCommand(workCmd)
}

func newProvider(kind string, capture restydump.Output) (ticket.Provider, error) {
	tel := newTelemetry()
	switch kind {
	case "", "api":
		var tokens portalapi.TokenSource
		switch {
		case cfg.PortalApi.TokenServer != "":
			tokens = portalapi.NewHttpTokenSource(cfg.PortalApi.TokenServer, tel)
		case os.Getenv("PORTAL_API_TOKEN") != "":
			tokens = portalapi.StaticToken(os.Getenv("PORTAL_API_TOKEN"))
		default:
			return nil, errors.New("api provider requires portal_api.token_server or PORTAL_API_TOKEN")
		}
		return portalapi.NewProvider(tokens, portalapi.Options{
			Endpoint:          cfg.PortalApi.Endpoint,
			RequestsPerSecond: cfg.PortalApi.RequestsPerSecond,
			Capture:           capture,
		}, tel), nil
	case "page":
		if cfg.PortalPage.RendererUrl == "" {
			return nil, errors.New("page provider requires portal_page.renderer_url")
		}
		source := portalpage.NewHTTPSource(cfg.PortalPage.RendererUrl, 0, tel)
		if capture != nil {
			source = source.Capture(capture)
		}
		return portalpage.NewProvider(source, cfg.PortalPage.BaseUrl, tel)
	}
	return nil, fmt.Errorf("unknown provider %q, expected api or page", kind)
}

var workCmd = &cobra.Command{
	Use:   "work [--provider api|page] [--server url]",
	Short: "Claims jobs from the queue server and looks them up until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := cfg.Worker.Provider
		if *workProvider != "" {
			kind = *workProvider
		}
		serverUrl := cfg.Worker.ServerUrl
		if *workServer != "" {
			serverUrl = *workServer
		}
		if serverUrl == "" {
			serverUrl = fmt.Sprintf("http://localhost:%d", defaultPort)
		}

		var capture restydump.Output
		if *workDump != "" {
			dir, err := restydump.NewDirOutput(*workDump)
			if err != nil {
				return err
			}
			capture = dir
		}
		provider, err := newProvider(kind, capture)
		if err != nil {
			return err
		}
		w, err := worker.NewWorker(provider, worker.Options{
			ServerUrl:    serverUrl,
			ClientId:     cfg.Worker.ClientId,
			PollInterval: seconds(cfg.Worker.PollIntervalSeconds),
		}, newClock(), newTelemetry())
		if err != nil {
			return err
		}

		slog.Info("working", "client_id", w.ClientId(), "server", serverUrl, "provider", kind)
		err = w.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			slog.Info("worker stopped")
			return nil
		}
		return err
	},
}
