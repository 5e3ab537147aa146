package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/agentic-research/hiercache/internal/mcptools"
	"github.com/agentic-research/hiercache/internal/nfsmount"
)

func newServeNFSCmd(e *env) *cobra.Command {
	var listen, mount string
	cmd := &cobra.Command{
		Use:   "serve-nfs",
		Short: "Serve the hierarchy as a read-only NFS filesystem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				e.cfg.NFS.Listen = listen
			}
			if cmd.Flags().Changed("mount") {
				e.cfg.NFS.Mount = mount
			}
			src, closeSrc, err := e.openSource()
			if err != nil {
				return err
			}
			defer func() { _ = closeSrc() }()
			g, stop, err := e.newGuard(src)
			if err != nil {
				return err
			}
			defer stop()

			log := e.logger()
			fs := nfsmount.NewSceneFS(g, nfsmount.WithFSLogger(log))
			srv, err := nfsmount.NewServer(fs, nfsmount.ServerOptions{
				Listen:      e.cfg.NFS.Listen,
				HandleCache: e.cfg.NFS.HandleCache,
				Logger:      &log,
			})
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			fmt.Fprintf(cmd.OutOrStdout(), "NFS server on port %d\n", srv.Port())

			if mp := e.cfg.NFS.Mount; mp != "" {
				if err := nfsmount.Mount(srv.Port(), mp, e.cfg.NFS.MountOptions); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mounted at %s\n", mp)
				defer func() {
					if err := nfsmount.Unmount(mp); err != nil {
						log.Error().Err(err).Str("mount", mp).Msg("unmount")
					}
				}()
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			select {
			case <-ctx.Done():
				return nil
			case err := <-srv.Done():
				return err
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default 127.0.0.1:0)")
	cmd.Flags().StringVar(&mount, "mount", "", "Mount the served filesystem at this directory (needs sudo)")
	return cmd
}

func newServeMCPCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve hierarchy tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, closeSrc, err := e.openSource()
			if err != nil {
				return err
			}
			defer func() { _ = closeSrc() }()
			g, stop, err := e.newGuard(src)
			if err != nil {
				return err
			}
			defer stop()

			log := e.logger()
			s := server.NewMCPServer("hiercache", Version, server.WithToolCapabilities(true))
			mcptools.Register(s, g, mcptools.Options{
				CaseInsensitive: e.cfg.Filter.CaseInsensitive,
				Logger:          &log,
			})
			return server.ServeStdio(s)
		},
	}
}
