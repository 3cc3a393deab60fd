// Package dashboard serves a local, read-only HTTP view of the service
// graph plus a websocket feed of service lifecycle events. It never
// accepts commands — it is strictly an observability surface alongside
// the control socket, not a replacement for it.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	ps "github.com/mitchellh/go-ps"

	"github.com/vinit-sh/vinit/pkg/logging"
	"github.com/vinit-sh/vinit/pkg/service"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Dashboard is a ServiceListener that fans events out to connected
// websocket clients and answers an HTTP status snapshot.
type Dashboard struct {
	set    *service.ServiceSet
	logger *logging.Logger
	srv    *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// New creates a Dashboard bound to the given service set.
func New(set *service.ServiceSet, logger *logging.Logger) *Dashboard {
	return &Dashboard{
		set:     set,
		logger:  logger,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Start registers the dashboard as a listener on every currently loaded
// service and begins serving HTTP on addr. Services loaded after Start
// is called are not retroactively observed.
func (d *Dashboard) Start(addr string) error {
	for _, svc := range d.set.ListServices() {
		svc.AddListener(d)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/services", d.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/events", d.handleWebSocket)

	d.srv = &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("status dashboard: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down.
func (d *Dashboard) Stop(ctx context.Context) error {
	if d.srv == nil {
		return nil
	}
	return d.srv.Shutdown(ctx)
}

type serviceStatus struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	State       string `json:"state"`
	TargetState string `json:"target_state"`
	PID         int    `json:"pid,omitempty"`
	PIDLive     bool   `json:"pid_live,omitempty"`
}

func (d *Dashboard) snapshot() []serviceStatus {
	svcs := d.set.ListServices()
	out := make([]serviceStatus, 0, len(svcs))
	for _, svc := range svcs {
		st := serviceStatus{
			Name:        svc.Name(),
			Type:        svc.Type().String(),
			State:       svc.State().String(),
			TargetState: svc.TargetState().String(),
		}
		if pid := svc.PID(); pid > 0 {
			st.PID = pid
			st.PIDLive = processAlive(pid)
		}
		out = append(out, st)
	}
	return out
}

// processAlive cross-checks a recorded PID against the live process
// table: a supervisor cannot fully trust a cached PID once the kernel
// recycles it for an unrelated process.
func processAlive(pid int) bool {
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}

func (d *Dashboard) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.snapshot())
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	out := make(chan []byte, 16)
	d.mu.Lock()
	d.clients[conn] = out
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.clients, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	for msg := range out {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ServiceEvent implements service.ServiceListener by broadcasting the
// event to every connected websocket client. Called synchronously from
// the cooperative scheduler thread at the point of state change, so this
// must never block or call back into the service set.
func (d *Dashboard) ServiceEvent(svc service.Service, event service.ServiceEvent) {
	payload, err := json.Marshal(struct {
		Service string `json:"service"`
		Event   string `json:"event"`
		State   string `json:"state"`
	}{svc.Name(), event.String(), svc.State().String()})
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.clients {
		select {
		case ch <- payload:
		default:
			// Slow client: drop the event rather than block the scheduler.
		}
	}
}
