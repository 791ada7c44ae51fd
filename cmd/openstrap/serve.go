package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/openstrap/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	var addr, static string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the capture parsing API",
		Long: `Start an HTTP server exposing POST ` + httpapi.ParseHistoryPath + `, which accepts a multipart
upload of raw frames and responds with decoded records as JSON. --static serves a
directory (for example a web front end) at /.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			if static == "" {
				static = a.cfg.HTTP.StaticDir
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			return httpapi.NewServer(httpapi.ServerOptions{StaticDir: static}, a.logger).ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to the configured address, :8080)")
	cmd.Flags().StringVar(&static, "static", "", "Directory served at /")
	return cmd
}
