package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/eargollo/sha2file/internal/server"
)

func (a *app) newServeCommand() *cobra.Command {
	var (
		port int
		root string
		addr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve digests and run history over HTTP",
		Long: `Serve a JSON API for files under the root directory:

  GET  /api/digest/{algorithm}?path=REL
  GET  /api/algorithms
  GET  /api/runs, /api/runs/{id}, /api/runs/{id}/duplicates
  POST /api/runs   queue a recorded run
  GET  /health`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Port()
			}
			if !cmd.Flags().Changed("root") {
				root = a.cfg.Root()
			}
			if addr == "" {
				addr = ":" + strconv.Itoa(port)
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			// Read-only pool so the API stays responsive during runs (WAL allows concurrent readers).
			readStore, err := a.openReadStore(store)
			if err != nil {
				return err
			}
			if readStore != nil {
				defer readStore.Close()
			}

			srv, err := server.New(server.Options{
				Root:         root,
				Workers:      a.cfg.Workers(),
				MaxPerSecond: a.cfg.MaxPerSecond(),
				Logger:       a.log.WithPrefix("server"),
			}, store, readStore)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from SHA2FILE_PORT)")
	cmd.Flags().StringVar(&root, "root", "", "Directory to serve (default from SHA2FILE_ROOT)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides --port")
	return cmd
}
