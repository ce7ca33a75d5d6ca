// Package rpchttp mounts the RPC upgrade endpoint onto a gin router,
// grounded on platform/cmd/server/main.go's route-registration style.
package rpchttp

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kartikbazzad/bunrpc/internal/logging"
	"github.com/kartikbazzad/bunrpc/internal/rpcauth"
)

// DefaultRPCPath is the path segment joined onto a dial base URL by
// both DialHTTP (client) and Mount (server), mirroring toy-rpc's
// server::DEFAULT_RPC_PATH.
const DefaultRPCPath = "_rpc"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ConnHandler is invoked with a freshly-upgraded websocket connection
// for every accepted request; the server package supplies one that
// hands the connection to a serverbroker.Broker.
type ConnHandler func(conn *websocket.Conn)

// AuthSecret, when non-nil, requires a valid bearer token before the
// upgrade completes.
type Options struct {
	AuthSecret []byte
	Log        *logging.Logger
}

// Mount registers a GET route at DefaultRPCPath on router that
// upgrades the connection to a websocket and hands it to handle.
func Mount(router gin.IRouter, handle ConnHandler, opts Options) {
	router.GET("/"+DefaultRPCPath, func(c *gin.Context) {
		if opts.AuthSecret != nil {
			if !authorize(c, opts.AuthSecret) {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			if opts.Log != nil {
				opts.Log.Warn("websocket upgrade failed: %v", err)
			}
			return
		}
		handle(conn)
	})
}

func authorize(c *gin.Context, secret []byte) bool {
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := strings.TrimPrefix(auth, prefix)
	_, err := rpcauth.ValidateToken(token, secret)
	return err == nil
}
