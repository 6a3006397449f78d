package application

import (
	"net/http"

	"github.com/Shugur-Network/relay-gate/internal/config"
	"github.com/Shugur-Network/relay-gate/internal/proxy"
)

// Config returns the gateway's configuration.
func (g *Gateway) Config() *config.Config {
	return g.config
}

// Manager returns the connection manager.
func (g *Gateway) Manager() *proxy.Manager {
	return g.manager
}

// Handler returns the client-facing HTTP handler without starting a listener.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler()
}
