package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/software3/software3/internal/editor"
	"github.com/software3/software3/internal/host"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 20
)

// upgrader keeps gorilla's same-origin check: only pages served by this
// server may open panels.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsPanel is one WebSocket connection acting as an editor panel.
type wsPanel struct {
	id   string
	doc  string
	conn *websocket.Conn
	ctrl *editor.Controller
	log  zerolog.Logger

	writeMu sync.Mutex
	closed  bool
	once    sync.Once
}

// ID returns the panel identifier.
func (p *wsPanel) ID() string { return p.id }

// PostMessage writes msg to the connection. Writes are serialized.
func (p *wsPanel) PostMessage(msg host.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return websocket.ErrCloseSent
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// close disposes the controller and closes the connection once.
func (p *wsPanel) close() {
	p.once.Do(func() {
		p.ctrl.Dispose()

		p.writeMu.Lock()
		p.closed = true
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		p.writeMu.Unlock()

		_ = p.conn.Close()
	})
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	rel, err := s.docParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	backupID := r.URL.Query().Get("backup")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	p := &wsPanel{
		id:   uuid.NewString(),
		doc:  rel,
		conn: conn,
	}
	p.log = s.log.With().Str("panel", p.id).Str("doc", rel).Logger()

	opts := []editor.ControllerOption{editor.WithDocumentPath(s.absPath(rel))}
	if s.gen != nil {
		opts = append(opts, editor.WithGenerator(s.gen))
	}
	if s.backups != nil {
		opts = append(opts, editor.WithBackups(s.backups))
	}
	p.ctrl = editor.NewController(rel, p, s.fs, s.executor, s.base, opts...)

	if backupID != "" {
		err = p.ctrl.OpenBackup(r.Context(), backupID)
	} else {
		err = p.ctrl.Open(r.Context())
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to open document")
		_ = p.PostMessage(host.Error(err.Error()))
		p.close()
		return
	}

	s.register(p)
	defer func() {
		s.unregister(p)
		s.backupOnClose(p)
		p.close()
	}()

	doc := p.ctrl.Document()
	if err := p.PostMessage(host.Update(string(doc.Content()), doc.IsDirty())); err != nil {
		return
	}

	p.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Panel connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				p.log.Debug().Err(err).Msg("Unexpected close")
			}
			break
		}

		var msg host.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = p.PostMessage(host.Error("invalid message: " + err.Error()))
			continue
		}
		if err := p.ctrl.Handle(s.ctx, msg); err != nil {
			p.log.Debug().Err(err).Str("type", msg.Type).Msg("Message rejected")
			if !errors.Is(err, editor.ErrNoGenerator) {
				_ = p.PostMessage(host.Error(err.Error()))
			}
		}
	}

	p.log.Debug().Msg("Panel disconnected")
}

// backupOnClose stores unsaved edits of a closing panel.
func (s *Server) backupOnClose(p *wsPanel) {
	if s.backups == nil {
		return
	}
	if p.ctrl.State() != editor.Dirty {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := p.ctrl.Backup(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to back up unsaved edits")
		return
	}
	if _, err := s.backups.Prune(ctx, p.doc, backupsKept); err != nil {
		p.log.Debug().Err(err).Msg("Failed to prune backups")
	}
	p.log.Info().Str("backup", id).Msg("Backed up unsaved edits")
}

// backupsKept is how many backups are kept per document.
const backupsKept = 10

func (s *Server) register(p *wsPanel) {
	s.panelMu.Lock()
	s.panels[p.id] = p
	n := len(s.panels)
	s.panelMu.Unlock()
	s.log.Debug().Int("panels", n).Msg("Panel registered")
}

func (s *Server) unregister(p *wsPanel) {
	s.panelMu.Lock()
	delete(s.panels, p.id)
	n := len(s.panels)
	s.panelMu.Unlock()
	s.log.Debug().Int("panels", n).Msg("Panel unregistered")
}

// panelsFor returns the open panels showing rel.
func (s *Server) panelsFor(rel string) []*wsPanel {
	s.panelMu.RLock()
	defer s.panelMu.RUnlock()
	var out []*wsPanel
	for _, p := range s.panels {
		if p.doc == rel {
			out = append(out, p)
		}
	}
	return out
}

// PanelCount returns the number of connected panels.
func (s *Server) PanelCount() int {
	s.panelMu.RLock()
	defer s.panelMu.RUnlock()
	return len(s.panels)
}
