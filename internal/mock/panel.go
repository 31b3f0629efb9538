// Package mock emulates a game server panel and its daemon: the client
// API used to list servers and issue console credentials, and the
// console socket that streams status, stats and output.
package mock

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"panelctl/pkg/sdk"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Options struct {
	// APIKey is the client key the panel API accepts.
	APIKey string
	// Secret signs console tokens. A random one is generated when empty.
	Secret []byte

	TokenTTL      time.Duration
	ExpiryWarning time.Duration

	StartDelay       time.Duration
	StopDelay        time.Duration
	StatsInterval    time.Duration
	InstallStepDelay time.Duration

	// History is how many console frames "send logs" replays.
	History int

	Sampler   Sampler
	Logger    *slog.Logger
	AccessLog bool
}

func (o *Options) setDefaults() {
	if o.APIKey == "" {
		o.APIKey = "ptlc_mock"
	}
	if len(o.Secret) == 0 {
		o.Secret = make([]byte, 32)
		rand.Read(o.Secret)
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = 10 * time.Minute
	}
	if o.ExpiryWarning <= 0 {
		o.ExpiryWarning = time.Minute
	}
	if o.StartDelay <= 0 {
		o.StartDelay = 3 * time.Second
	}
	if o.StopDelay <= 0 {
		o.StopDelay = 2 * time.Second
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 2 * time.Second
	}
	if o.InstallStepDelay <= 0 {
		o.InstallStepDelay = 500 * time.Millisecond
	}
	if o.History <= 0 {
		o.History = 150
	}
	if o.Sampler == nil {
		o.Sampler = HostSampler()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ServerSpec describes a server to add to the emulated panel.
type ServerSpec struct {
	Name        string
	Node        string
	Description string
	Limits      sdk.Limits
	Running     bool
	Maintenance bool
}

type Panel struct {
	opts   Options
	logger *slog.Logger
	engine *gin.Engine

	mu      sync.RWMutex
	servers map[string]*simServer
	order   []string
}

type consoleClaims struct {
	ServerUUID  string   `json:"server_uuid"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

func New(opts Options) *Panel {
	opts.setDefaults()

	engine := gin.New()
	engine.Use(gin.Recovery())
	if opts.AccessLog {
		engine.Use(gin.Logger())
	}

	p := &Panel{
		opts:    opts,
		logger:  opts.Logger,
		engine:  engine,
		servers: make(map[string]*simServer),
	}
	p.registerRoutes()
	return p
}

func (p *Panel) registerRoutes() {
	client := p.engine.Group("/api/client", p.requireKey)
	{
		client.GET("", p.listServers)
		client.GET("/servers/:id", p.getServer)
		client.GET("/servers/:id/websocket", p.websocketDetails)
		client.GET("/servers/:id/resources", p.resources)
	}

	p.engine.GET("/api/servers/:uuid/ws", p.serveConsole)
	p.engine.GET("/server/:id", p.serverPage)
}

func (p *Panel) Handler() http.Handler { return p.engine }

func (p *Panel) APIKey() string { return p.opts.APIKey }

// AddServer registers a server and returns its panel record.
func (p *Panel) AddServer(spec ServerSpec) sdk.Server {
	id := uuid.New()
	info := sdk.Server{
		Identifier:             id.String()[:8],
		UUID:                   id.String(),
		Name:                   spec.Name,
		Node:                   spec.Node,
		Description:            spec.Description,
		IsNodeUnderMaintenance: spec.Maintenance,
		Limits:                 spec.Limits,
	}
	if info.Node == "" {
		info.Node = "node-1"
	}

	state := stateOffline
	if spec.Running {
		state = stateRunning
	}

	srv := newSimServer(info, state, &p.opts, p.logger)
	p.mu.Lock()
	p.servers[info.Identifier] = srv
	p.order = append(p.order, info.Identifier)
	p.mu.Unlock()
	return info
}

// Seed adds a few servers in different states.
func (p *Panel) Seed() []sdk.Server {
	return []sdk.Server{
		p.AddServer(ServerSpec{
			Name:    "Survival",
			Limits:  sdk.Limits{Memory: 4096, Disk: 10240, CPU: 200},
			Running: true,
		}),
		p.AddServer(ServerSpec{
			Name:   "Creative",
			Limits: sdk.Limits{Memory: 2048, Disk: 5120, CPU: 100},
		}),
		p.AddServer(ServerSpec{
			Name:        "Minigames",
			Node:        "node-2",
			Limits:      sdk.Limits{Memory: 1024, Disk: 2048, CPU: 100},
			Maintenance: true,
		}),
	}
}

func (p *Panel) lookup(id string) *simServer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if srv, ok := p.servers[id]; ok {
		return srv
	}
	for _, srv := range p.servers {
		if srv.Info().UUID == id {
			return srv
		}
	}
	return nil
}

// SetMaintenance toggles the node maintenance flag of a server.
func (p *Panel) SetMaintenance(id string, active bool) error {
	srv := p.lookup(id)
	if srv == nil {
		return fmt.Errorf("unknown server %s", id)
	}
	srv.setMaintenance(active)
	return nil
}

// Install starts an emulated reinstall of a server.
func (p *Panel) Install(id string) error {
	srv := p.lookup(id)
	if srv == nil {
		return fmt.Errorf("unknown server %s", id)
	}
	srv.install([]string{
		"Pulling installation image...",
		"Downloading server files...",
		"Installation completed.",
	})
	return nil
}

// Disconnect drops every console socket of a server.
func (p *Panel) Disconnect(id string) error {
	srv := p.lookup(id)
	if srv == nil {
		return fmt.Errorf("unknown server %s", id)
	}
	srv.hub.Kick()
	return nil
}

// Console writes a line to a server console as if the game printed it.
func (p *Panel) Console(id, line string) error {
	srv := p.lookup(id)
	if srv == nil {
		return fmt.Errorf("unknown server %s", id)
	}
	srv.console(line)
	return nil
}

func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, srv := range p.servers {
		srv.close()
	}
	p.servers = make(map[string]*simServer)
	p.order = nil
}

func (p *Panel) issueToken(srv *simServer) (string, error) {
	now := time.Now()
	claims := consoleClaims{
		ServerUUID:  srv.Info().UUID,
		Permissions: []string{"*"},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.opts.TokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.opts.Secret)
}

func (p *Panel) parseToken(token string) (*consoleClaims, error) {
	claims := &consoleClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.opts.Secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func apiError(c *gin.Context, status int, code, detail string) {
	c.AbortWithStatusJSON(status, gin.H{
		"errors": []gin.H{{
			"code":   code,
			"status": fmt.Sprintf("%d", status),
			"detail": detail,
		}},
	})
}

func (p *Panel) requireKey(c *gin.Context) {
	header := c.GetHeader("Authorization")
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || key != p.opts.APIKey {
		apiError(c, http.StatusUnauthorized, "AuthenticationException", "Unauthenticated.")
		return
	}
	c.Next()
}

func (p *Panel) server(c *gin.Context) *simServer {
	srv := p.lookup(c.Param("id"))
	if srv == nil {
		apiError(c, http.StatusNotFound, "NotFoundHttpException", "The requested resource could not be found on the server.")
		return nil
	}
	return srv
}

func serverObject(info sdk.Server) gin.H {
	return gin.H{"object": "server", "attributes": info}
}

func (p *Panel) listServers(c *gin.Context) {
	p.mu.RLock()
	ids := append([]string(nil), p.order...)
	p.mu.RUnlock()
	sort.Strings(ids)

	data := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		if srv := p.lookup(id); srv != nil {
			data = append(data, serverObject(srv.Info()))
		}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (p *Panel) getServer(c *gin.Context) {
	srv := p.server(c)
	if srv == nil {
		return
	}
	c.JSON(http.StatusOK, serverObject(srv.Info()))
}

func (p *Panel) websocketDetails(c *gin.Context) {
	srv := p.server(c)
	if srv == nil {
		return
	}
	token, err := p.issueToken(srv)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}

	scheme := "ws"
	if c.Request.TLS != nil {
		scheme = "wss"
	}
	socket := fmt.Sprintf("%s://%s/api/servers/%s/ws", scheme, c.Request.Host, srv.Info().UUID)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": token, "socket": socket}})
}

func (p *Panel) resources(c *gin.Context) {
	srv := p.server(c)
	if srv == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "stats", "attributes": srv.resources()})
}

func (p *Panel) serverPage(c *gin.Context) {
	srv := p.lookup(c.Param("id"))
	if srv == nil {
		c.String(http.StatusNotFound, "server not found")
		return
	}
	info := srv.Info()
	c.String(http.StatusOK, "%s (%s) on %s is %s\n", info.Name, info.Identifier, info.Node, srv.State())
}

func (p *Panel) serveConsole(c *gin.Context) {
	srv := p.lookup(c.Param("uuid"))
	if srv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(p, srv, conn)
	go s.writePump()
	s.readPump()
}
