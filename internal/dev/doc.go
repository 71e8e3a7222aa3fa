// Package dev provides the development server.
//
// The server owns the authoritative file registry and exposes it over HTTP:
//
//	/socket                 file sync endpoint for mirrors (websocket)
//	/_assetsync/bundle/*    builds the bundle for a path
//	/metrics                Prometheus metrics
//	/*                      static files from the base directory
//
// With sync enabled, a Watcher reports changes under the base directory.
// Registered files are reloaded or removed, and every content update is
// rescanned so the dependency graph stays current. Connected mirrors receive
// the resulting registry events.
//
// # Usage
//
//	srv := dev.NewServer(dev.ServerOptions{Config: cfg})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package dev
