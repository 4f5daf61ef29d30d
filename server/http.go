/******************************************************************************
 *
 *  Description :
 *
 *    Web server initialization and graceful shutdown.
 *
 *****************************************************************************/

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/podgrid/notifier/server/logs"
)

type tlsConfig struct {
	// Flag enabling TLS.
	Enabled bool `json:"enabled"`
	// Listen on port 80 and redirect plain HTTP to HTTPS.
	RedirectHTTP string `json:"http_redirect"`
	// Enable Strict-Transport-Security by setting max_age > 0.
	StrictMaxAge int `json:"strict_max_age"`
	// ACME autocert config, e.g. letsencrypt.org.
	Autocert *tlsAutocertConfig `json:"autocert"`
	// If Autocert is not defined, provide file names of static certificate and key.
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

type tlsAutocertConfig struct {
	// Domains to support by autocert.
	Domains []string `json:"domains"`
	// Name of the directory where auto-certificates are cached.
	CertCache string `json:"cache"`
	// Contact email for letsencrypt.
	Email string `json:"email"`
}

func listenAndServe(addr string, mux *http.ServeMux, jsontls json.RawMessage, stop <-chan bool) error {
	var tlsCfg tlsConfig
	if len(jsontls) > 0 {
		if err := json.Unmarshal(jsontls, &tlsCfg); err != nil {
			return errors.New("http: failed to parse tls config: " + err.Error())
		}
	}

	shuttingDown := false
	httpdone := make(chan bool)

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		var err error
		if tlsCfg.Enabled {
			if tlsCfg.StrictMaxAge > 0 {
				globals.tlsStrictMaxAge = strconv.Itoa(tlsCfg.StrictMaxAge)
			}

			// If port is not specified, use the default https port.
			if server.Addr == "" {
				server.Addr = ":https"
			}

			server.TLSConfig = &tls.Config{}
			if tlsCfg.Autocert != nil {
				certManager := autocert.Manager{
					Prompt:     autocert.AcceptTOS,
					HostPolicy: autocert.HostWhitelist(tlsCfg.Autocert.Domains...),
					Cache:      autocert.DirCache(tlsCfg.Autocert.CertCache),
					Email:      tlsCfg.Autocert.Email,
				}
				server.TLSConfig.GetCertificate = certManager.GetCertificate
				if tlsCfg.CertFile != "" || tlsCfg.KeyFile != "" {
					logs.Warn.Println("http: using autocert, static cert and key files are ignored")
					tlsCfg.CertFile = ""
					tlsCfg.KeyFile = ""
				}
			}

			if tlsCfg.RedirectHTTP != "" {
				logs.Info.Printf("http: redirecting connections from [%s] to [%s]",
					tlsCfg.RedirectHTTP, server.Addr)
				go http.ListenAndServe(tlsCfg.RedirectHTTP, tlsRedirect(server.Addr))
			}

			logs.Info.Printf("http: listening for HTTPS connections on [%s]", server.Addr)
			err = server.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			logs.Info.Printf("http: listening for HTTP connections on [%s]", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			if shuttingDown {
				logs.Info.Println("http: stopped")
			} else {
				logs.Err.Println("http: failed", err)
			}
		}
		httpdone <- true
	}()

	// Wait for either a termination signal or a server error.
loop:
	for {
		select {
		case <-stop:
			// Flip the flag that we are terminating and close the Accept-ing
			// socket, so no new connections are possible.
			shuttingDown = true
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := server.Shutdown(ctx); err != nil {
				// Failure/timeout shutting down the server gracefully.
				logs.Err.Println("http: failed to terminate gracefully", err)
			}
			cancel()

			// Wait for the server to stop accepting connections.
			<-httpdone

			// Stop the connection sweep.
			close(globals.sweepDone)

			// Close all live delivery connections.
			globals.sockReg.shutdown()
			globals.streamReg.shutdown()

			// Stop delivery workers.
			globals.deliveryPool.Stop()

			statsShutdown()
			break loop

		case <-httpdone:
			break loop
		}
	}
	return nil
}

func signalHandler() <-chan bool {
	stop := make(chan bool)

	signchan := make(chan os.Signal, 1)
	signal.Notify(signchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		// Wait for a signal. Don't care which signal it is.
		sig := <-signchan
		logs.Info.Printf("Signal received: '%s', shutting down", sig)
		stop <- true
	}()

	return stop
}

// Wrapper for http.Handler which optionally adds Strict-Transport-Security to
// the response.
func hstsHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(wrt http.ResponseWriter, req *http.Request) {
		if globals.tlsStrictMaxAge != "" {
			wrt.Header().Set("Strict-Transport-Security", "max-age="+globals.tlsStrictMaxAge)
		}
		handler.ServeHTTP(wrt, req)
	})
}

// Redirect HTTP requests to HTTPS.
func tlsRedirect(toPort string) http.HandlerFunc {
	if toPort == ":443" || toPort == ":https" {
		toPort = ""
	}
	return func(wrt http.ResponseWriter, req *http.Request) {
		target := "https://" + strings.Split(req.Host, ":")[0] + toPort + req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		http.Redirect(wrt, req, target, http.StatusTemporaryRedirect)
	}
}
