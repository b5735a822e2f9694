package oidc

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"archivist/pkg/logging"
	"archivist/pkg/oauth"
)

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTemplate = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTemplate   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// shutdownDelay gives the browser time to receive the result page.
const shutdownDelay = 500 * time.Millisecond

// Receiver is a temporary loopback HTTP server bound to the redirect URI. It
// accepts exactly one callback and then shuts down.
type Receiver struct {
	redirect *url.URL
	server   *http.Server
	listener net.Listener
	resultCh chan oauth.Callback
	errorCh  chan error
	once     sync.Once
	stopOnce sync.Once
}

// NewReceiver validates that redirectURI points at this machine.
func NewReceiver(redirectURI string) (*Receiver, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect_uri: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect_uri %q must use http for a loopback receiver", redirectURI)
	}
	host := u.Hostname()
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("redirect_uri %q is not a loopback address", redirectURI)
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return &Receiver{
		redirect: u,
		resultCh: make(chan oauth.Callback, 1),
		errorCh:  make(chan error, 1),
	}, nil
}

// Start binds the listener and serves until a callback arrives, Stop is
// called, or ctx is done.
func (r *Receiver) Start(ctx context.Context) error {
	host := r.redirect.Hostname()
	if host == "localhost" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, r.redirect.Port())
	if r.redirect.Port() == "" {
		addr = net.JoinHostPort(host, "80")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start callback receiver on %s: %w", addr, err)
	}
	r.listener = listener

	router := chi.NewRouter()
	router.Get(r.redirect.Path, r.handleCallback)

	r.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case r.errorCh <- err:
			default:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	logging.Debug("OIDC", "Callback receiver listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (r *Receiver) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Wait blocks until the callback arrives or ctx is done.
func (r *Receiver) Wait(ctx context.Context) (oauth.Callback, error) {
	select {
	case cb := <-r.resultCh:
		return cb, nil
	case err := <-r.errorCh:
		return oauth.Callback{}, err
	case <-ctx.Done():
		return oauth.Callback{}, ctx.Err()
	}
}

func (r *Receiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	handled := false
	r.once.Do(func() {
		handled = true
		r.processCallback(w, req)
	})
	if !handled {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (r *Receiver) processCallback(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	cb := oauth.ParseCallback(req.URL.Query())

	var err error
	if cb.IsError() {
		w.WriteHeader(http.StatusBadRequest)
		err = errorTemplate.Execute(w, map[string]string{
			"Error":       cb.Error,
			"Description": cb.ErrorDescription,
		})
	} else {
		err = successTemplate.Execute(w, nil)
	}
	if err != nil {
		logging.Debug("OIDC", "Rendering callback page: %v", err)
	}

	select {
	case r.resultCh <- cb:
	default:
	}

	go func() {
		time.Sleep(shutdownDelay)
		r.Stop()
	}()
}

// Stop shuts the receiver down. It is safe to call more than once.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		if r.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = r.server.Shutdown(ctx)
		}
		if r.listener != nil {
			_ = r.listener.Close()
		}
	})
}
