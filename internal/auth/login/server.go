package login

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/yaananth/chatmock/internal/auth"
)

const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>Login successful</title>
  </head>
  <body>
    <div style="max-width: 640px; margin: 80px auto; font-family: system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial, sans-serif;">
      <h1>Login successful</h1>
      <p>You can now close this window and return to the terminal and run <code>chatmock serve</code> to start the server.</p>
    </div>
  </body>
</html>
`

// Run executes the interactive login flow: bind the loopback callback
// server, open the browser on the authorization URL, wait for the callback,
// and return the persisted credential bundle.
func Run(ctx context.Context, opts Options) (*auth.Bundle, error) {
	session, err := NewSession(opts)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", session.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w (%s)", ErrPortBusy, addr)
		}
		return nil, fmt.Errorf("bind login server: %w", err)
	}

	done := make(chan error, 1)
	srv := &http.Server{
		Handler:           newHandler(session, done),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			finish(done, serveErr)
		}
	}()

	fmt.Printf("Starting local login server on http://localhost:%d\n", session.opts.Port)
	announceAuthURL(session.AuthURL(), session.opts.Port, opts.NoBrowser)
	fmt.Println("Waiting for ChatGPT authentication callback...")

	var result error
	select {
	case <-ctx.Done():
		result = ctx.Err()
	case result = <-done:
	}

	// Graceful shutdown lets the success page finish rendering in the
	// browser before the socket goes away.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if result != nil {
		return nil, result
	}
	bundle := session.Bundle()
	if bundle == nil {
		return nil, errors.New("login: no credentials captured")
	}
	fmt.Println("ChatGPT authentication successful")
	return bundle, nil
}

// newHandler routes the two callback-server paths. Unknown paths get a 404
// without ending the session so stray probes cannot abort a pending login.
func newHandler(s *Session, done chan<- error) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		_, err := s.Complete(r.Context(), q.Get("code"), q.Get("state"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrMissingCode) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			finish(done, err)
			return
		}
		writeSuccessHTML(w)
		finish(done, nil)
	})

	mux.HandleFunc(successPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		writeSuccessHTML(w)
		finish(done, nil)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

func writeSuccessHTML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(loginSuccessHTML))
}

// finish delivers the terminal result exactly once.
func finish(done chan<- error, err error) {
	select {
	case done <- err:
	default:
	}
}
