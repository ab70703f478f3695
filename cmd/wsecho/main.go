// Command wsecho is a minimal WebSocket echo server and client built on
// wsock, useful for manual interop testing against other
// implementations.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arfx/wsock"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wsecho",
		Short: "Echo server and client for the wsock WebSocket engine",
	}
	root.AddCommand(newServeCmd(), newDialCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}

func newDialCmd() *cobra.Command {
	var url, message string
	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a server, send one message, print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(cmd.Context(), url, message)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/", "server URL")
	cmd.Flags().StringVar(&message, "message", "hello", "text message to send")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	log := logrus.StandardLogger()
	cfg := wsock.DefaultConfig()
	cfg.Logger = log

	handler := wsock.Serve(cfg, func(ctx context.Context, conn *wsock.Conn) {
		log.WithField("conn_id", conn.ID()).Info("connection established")
		for {
			msg, err := conn.Recv(ctx)
			if err != nil {
				var ce *wsock.CloseError
				if errors.As(err, &ce) {
					log.WithField("conn_id", conn.ID()).WithField("code", ce.Code).Info("connection closed")
				}
				return
			}
			if err := conn.Send(ctx, msg.Type, msg.Data); err != nil {
				return
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: handler}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runDial(ctx context.Context, url, message string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := wsock.Dial(ctx, url, wsock.DefaultConfig())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	if err := conn.Send(ctx, wsock.TextMessage, []byte(message)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	msg, err := conn.Recv(ctx)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}

	w := bufio.NewWriter(os.Stdout)
	fmt.Fprintf(w, "%s\n", msg.Data)
	w.Flush()

	// Close always returns a CloseError describing how the connection
	// ended, even on a clean 1000 closure, so only surface it as a
	// command failure when it wasn't the code we asked for.
	if err := conn.Close(ctx, 1000, "done"); err != nil {
		var ce *wsock.CloseError
		if errors.As(err, &ce) && ce.Code == 1000 {
			return nil
		}
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
