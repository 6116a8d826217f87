package serve

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/arvimal/osbuild/pkg/batch"
	"github.com/arvimal/osbuild/pkg/config"
	"github.com/arvimal/osbuild/pkg/index"
	"github.com/arvimal/osbuild/pkg/jobapi"
)

// GetCommand returns the serve command: accept work requests over a unix
// socket websocket, one request per connection, one response back.
func GetCommand() *cobra.Command {
	var socketPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve work requests on a unix socket",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if socketPath == "" {
				socketPath = cfg.SocketPath
			}
			return run(c.Context(), cfg, socketPath)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "Socket path (defaults to the configured one)")
	return cmd
}

func run(ctx context.Context, cfg config.Config, socketPath string) error {
	coord, err := batch.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if ix, err := index.Open(cfg.IndexPath()); err != nil {
		slog.Warn("provenance index unavailable", "err", err)
	} else {
		defer ix.Close()
		coord.Index = ix
	}

	_ = os.Remove(socketPath)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: handler(cfg, coord)}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	slog.Info("serving work requests", "socket", socketPath)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Debug("sd_notify not delivered", "err", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	case err = <-errCh:
	}
	_ = os.Remove(socketPath)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

var upgrader = websocket.Upgrader{}

func handler(cfg config.Config, coord *batch.Coordinator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "err", err)
			return
		}
		defer func() { _ = conn.Close() }()

		_, payload, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("read request failed", "err", err)
			return
		}

		req, err := jobapi.Decode(bytes.NewReader(payload))
		var resp jobapi.Response
		if err != nil {
			resp = jobapi.Failure(err)
		} else {
			if req.StoreDir == "" {
				req.StoreDir = cfg.StoreDir
			}
			resp = coord.Run(r.Context(), req)
		}

		if err := conn.WriteJSON(resp); err != nil {
			slog.Debug("write response failed", "err", err)
		}
	})
	return mux
}
