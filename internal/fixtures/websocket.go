package fixtures

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/atlassian/hasocket"
	"github.com/atlassian/hasocket/pkg/codec"
)

// DataHandler produces the reply to a data frame.  Returning a nil reply sends nothing.
type DataHandler func(messageType int, data []byte) (int, []byte)

// FakeNode is a websocket server answering like a backend node: the management endpoint replies
// to register and carries broadcasts, the data endpoint replies through a DataHandler (echo by default).
type FakeNode struct {
	TB     testing.TB
	Server *httptest.Server

	upgrader websocket.Upgrader

	mu         sync.Mutex
	id         string
	isMaster   bool
	handler    DataHandler
	management map[*websocket.Conn]*sync.Mutex
	data       map[*websocket.Conn]struct{}

	registrations int32
	dataDials     int32
	down          int32
}

// NewFakeNode starts a FakeNode which registers as id.  It is closed with the test.
func NewFakeNode(tb testing.TB, id string, isMaster bool) *FakeNode {
	fn := &FakeNode{
		TB:         tb,
		id:         id,
		isMaster:   isMaster,
		management: map[*websocket.Conn]*sync.Mutex{},
		data:       map[*websocket.Conn]struct{}{},
		handler: func(messageType int, data []byte) (int, []byte) {
			return messageType, data
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(hasocket.DefaultManagementPath, fn.serveManagement)
	mux.HandleFunc(hasocket.DefaultDataPath, fn.serveData)
	fn.Server = httptest.NewServer(mux)
	tb.Cleanup(fn.Close)
	return fn
}

// URL returns the websocket base uri of the node.
func (fn *FakeNode) URL() string {
	return "ws" + strings.TrimPrefix(fn.Server.URL, "http")
}

// ManagementURL returns the management endpoint of the node.
func (fn *FakeNode) ManagementURL() string {
	return fn.URL() + hasocket.DefaultManagementPath
}

// DataURL returns the data endpoint of the node.
func (fn *FakeNode) DataURL() string {
	return fn.URL() + hasocket.DefaultDataPath
}

// SetRegistration changes the reply to future register commands.
func (fn *FakeNode) SetRegistration(id string, isMaster bool) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.id = id
	fn.isMaster = isMaster
}

// SetDataHandler replaces the data handler.
func (fn *FakeNode) SetDataHandler(h DataHandler) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	fn.handler = h
}

// SetDown makes the node refuse websocket handshakes with 503 while down is true.  Open
// websockets are not affected.
func (fn *FakeNode) SetDown(down bool) {
	var v int32
	if down {
		v = 1
	}
	atomic.StoreInt32(&fn.down, v)
}

func (fn *FakeNode) refuse(w http.ResponseWriter) bool {
	if atomic.LoadInt32(&fn.down) == 0 {
		return false
	}
	http.Error(w, "node is down", http.StatusServiceUnavailable)
	return true
}

// Registrations returns how many register commands were answered.
func (fn *FakeNode) Registrations() int {
	return int(atomic.LoadInt32(&fn.registrations))
}

// DataDials returns how many data websockets were accepted.
func (fn *FakeNode) DataDials() int {
	return int(atomic.LoadInt32(&fn.dataDials))
}

// ManagementSessions returns the number of open management websockets.
func (fn *FakeNode) ManagementSessions() int {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	return len(fn.management)
}

// Broadcast sends b as a text frame to every management session.
func (fn *FakeNode) Broadcast(b hasocket.Broadcast) {
	data, err := codec.Text.Marshal(b)
	if err != nil {
		fn.TB.Errorf("marshal broadcast: %v", err)
		return
	}
	fn.SendManagement(websocket.TextMessage, data)
}

// SendManagement sends a raw frame to every management session.
func (fn *FakeNode) SendManagement(messageType int, data []byte) {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	for ws, wmu := range fn.management {
		wmu.Lock()
		if err := ws.WriteMessage(messageType, data); err != nil {
			fn.TB.Logf("write management frame: %v", err)
		}
		wmu.Unlock()
	}
}

// DropManagement closes every management websocket without a close handshake.
func (fn *FakeNode) DropManagement() {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	for ws := range fn.management {
		_ = ws.Close()
		delete(fn.management, ws)
	}
}

// DropData closes every data websocket without a close handshake.
func (fn *FakeNode) DropData() {
	fn.mu.Lock()
	defer fn.mu.Unlock()
	for ws := range fn.data {
		_ = ws.Close()
		delete(fn.data, ws)
	}
}

// Close drops every websocket and stops the server.  It is idempotent.
func (fn *FakeNode) Close() {
	fn.DropManagement()
	fn.DropData()
	fn.Server.Close()
}

func (fn *FakeNode) serveManagement(w http.ResponseWriter, r *http.Request) {
	if fn.refuse(w) {
		return
	}
	ws, err := fn.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fn.TB.Logf("upgrade management: %v", err)
		return
	}
	wmu := &sync.Mutex{}
	fn.mu.Lock()
	fn.management[ws] = wmu
	fn.mu.Unlock()
	defer func() {
		fn.mu.Lock()
		delete(fn.management, ws)
		fn.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if string(data) != hasocket.RegisterCommand {
			continue
		}
		fn.mu.Lock()
		reg := hasocket.Registration{ID: fn.id, IsMaster: fn.isMaster}
		fn.mu.Unlock()
		reply, err := codec.Text.Marshal(reg)
		if err != nil {
			fn.TB.Errorf("marshal registration: %v", err)
			return
		}
		atomic.AddInt32(&fn.registrations, 1)
		wmu.Lock()
		err = ws.WriteMessage(websocket.TextMessage, reply)
		wmu.Unlock()
		if err != nil {
			return
		}
	}
}

func (fn *FakeNode) serveData(w http.ResponseWriter, r *http.Request) {
	if fn.refuse(w) {
		return
	}
	ws, err := fn.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fn.TB.Logf("upgrade data: %v", err)
		return
	}
	atomic.AddInt32(&fn.dataDials, 1)
	fn.mu.Lock()
	fn.data[ws] = struct{}{}
	fn.mu.Unlock()
	defer func() {
		fn.mu.Lock()
		delete(fn.data, ws)
		fn.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		fn.mu.Lock()
		handler := fn.handler
		fn.mu.Unlock()
		replyType, reply := handler(messageType, data)
		if reply == nil {
			continue
		}
		if err := ws.WriteMessage(replyType, reply); err != nil {
			return
		}
	}
}
