package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wvw-insights/cbtup/internal/app"
	mcpserver "github.com/wvw-insights/cbtup/internal/mcp"
)

// EnvServeAPIKey holds the API key for the HTTP transports.
const EnvServeAPIKey = "CBTUP_SERVE_API_KEY"

var (
	serveTransport string
	servePort      int
	serveAPIKey    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for AI assistant integration",
	Long: `Serve the upload tools over the Model Context Protocol.

stdio is for a local assistant. sse and http listen on --port and require
--serve-api-key or the ` + EnvServeAPIKey + ` variable.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "stdio", "Transport type: stdio, sse, or http")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port for HTTP/SSE server")
	serveCmd.Flags().StringVar(&serveAPIKey, "serve-api-key", "", "API key for HTTP authentication (or "+EnvServeAPIKey+" env var)")
	rootCmd.AddCommand(serveCmd)
}

// drainTimeout bounds how long shutdown waits for uploads already in flight.
const drainTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	server := mcpserver.NewServer(a, Version)

	// Sessions started over MCP are cancelled with this context on shutdown.
	uploads, stopUploads := context.WithCancel(context.Background())
	defer stopUploads()
	server.SetSessionContext(uploads)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var handler http.Handler
	switch serveTransport {
	case "stdio":
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-sigs
			cancel()
		}()
		fmt.Fprintln(os.Stderr, "Serving MCP on stdio")
		err := server.RunStdio(ctx)
		stopUploads()
		drainUploads(a)
		return err
	case "sse":
		handler = server.NewHTTPHandler()
	case "http":
		handler = server.NewStreamableHTTPHandler()
	default:
		return fmt.Errorf("unknown transport: %s (must be stdio, sse, or http)", serveTransport)
	}

	key := serveAPIKey
	if key == "" {
		key = os.Getenv(EnvServeAPIKey)
	}
	if key == "" {
		return fmt.Errorf("%s transport needs an API key: use --serve-api-key or set %s", serveTransport, EnvServeAPIKey)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: mcpserver.APIKeyMiddleware(key, handler),
	}
	go func() {
		<-sigs
		fmt.Fprintln(os.Stderr, "Shutting down; waiting for uploads in flight")
		stopUploads()
		drainUploads(a)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	fmt.Fprintf(os.Stderr, "Serving MCP (%s) on http://localhost%s\n", serveTransport, srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// drainUploads waits for a cancelled session to let its in-flight uploads finish.
func drainUploads(a *app.App) {
	sess, ok := a.Sessions.Last()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := sess.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s upload session %s did not drain: %v\n", markFail, sess.ID(), err)
	}
}
