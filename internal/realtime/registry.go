// Package realtime реестр живых подключений администраторов и рассылка сообщений по комнатам.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Captain-Catto/starbuck-cups-backend-sub002/internal/lib/metrics"
	"golang.org/x/sync/errgroup"
)

// AdminRoom общая комната всех администраторов
const AdminRoom = "admin"

const (
	defaultSendTimeout = 5 * time.Second
	defaultParallelism = 16
)

// Message кадр, уходящий клиенту: {"type": ..., "data": ...}
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Conn одно живое подключение. Send не должен блокироваться дольше ctx.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

type member struct {
	identity string
	conn     Conn
	rooms    map[string]struct{}
}

type Options struct {
	SendTimeout time.Duration
	Parallelism int
}

// Registry в каждый момент знает, какие подключения какому администратору принадлежат и
// в каких комнатах состоят. Одному администратору может принадлежать несколько подключений.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    Options

	mu         sync.RWMutex
	conns      map[string]*member
	byIdentity map[string]map[string]struct{}
	rooms      map[string]map[string]struct{}
}

func NewRegistry(log *slog.Logger, m *metrics.Metrics, opts Options) *Registry {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	return &Registry{
		log:        log.With(slog.String("component", "realtime.Registry")),
		metrics:    m,
		opts:       opts,
		conns:      make(map[string]*member),
		byIdentity: make(map[string]map[string]struct{}),
		rooms:      make(map[string]map[string]struct{}),
	}
}

// Join регистрирует подключение и сразу помещает его в комнату администраторов.
func (r *Registry) Join(identity string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.conns[id]; ok {
		return
	}
	m := &member{identity: identity, conn: conn, rooms: make(map[string]struct{})}
	r.conns[id] = m
	if r.byIdentity[identity] == nil {
		r.byIdentity[identity] = make(map[string]struct{})
	}
	r.byIdentity[identity][id] = struct{}{}
	r.joinRoomLocked(m, id, AdminRoom)

	r.metrics.Connections.Set(float64(len(r.conns)))
	r.log.Info("connection joined", slog.String("identity", identity), slog.String("connID", id))
}

// JoinRoom добавляет уже зарегистрированное подключение в комнату
func (r *Registry) JoinRoom(connID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[connID]
	if !ok {
		return false
	}
	r.joinRoomLocked(m, connID, room)
	return true
}

func (r *Registry) joinRoomLocked(m *member, connID, room string) {
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
	m.rooms[room] = struct{}{}
}

// Leave удаляет подключение из всех комнат. Повторный вызов ничего не делает.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

func (r *Registry) leaveLocked(connID string) bool {
	m, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)
	for room := range m.rooms {
		delete(r.rooms[room], connID)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.byIdentity[m.identity], connID)
	if len(r.byIdentity[m.identity]) == 0 {
		delete(r.byIdentity, m.identity)
	}
	r.metrics.Connections.Set(float64(len(r.conns)))
	r.log.Info("connection left", slog.String("identity", m.identity), slog.String("connID", connID))
	return true
}

// BroadcastToRoom отправляет сообщение всем подключениям комнаты и возвращает число успешных отправок.
// Подключения, на которые отправить не удалось, удаляются из реестра и закрываются.
func (r *Registry) BroadcastToRoom(ctx context.Context, room string, msg Message) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		targets = append(targets, r.conns[id].conn)
	}
	r.mu.RUnlock()
	return r.sendAll(ctx, targets, msg)
}

// SendToIdentity отправляет сообщение всем подключениям одного администратора.
func (r *Registry) SendToIdentity(ctx context.Context, identity string, msg Message) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.byIdentity[identity]))
	for id := range r.byIdentity[identity] {
		targets = append(targets, r.conns[id].conn)
	}
	r.mu.RUnlock()
	return r.sendAll(ctx, targets, msg)
}

func (r *Registry) sendAll(ctx context.Context, targets []Conn, msg Message) int {
	if len(targets) == 0 {
		return 0
	}

	var (
		mu        sync.Mutex
		delivered int
		failed    []Conn
	)
	g := new(errgroup.Group)
	g.SetLimit(r.opts.Parallelism)
	for _, c := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
			defer cancel()
			err := c.Send(sendCtx, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.log.Warn("push failed", slog.String("connID", c.ID()), slog.String("type", msg.Type), slog.Any("error", err))
				failed = append(failed, c)
				return nil
			}
			delivered++
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		r.mu.Lock()
		for _, c := range failed {
			r.metrics.PushFailures.Inc()
			r.leaveLocked(c.ID())
		}
		r.mu.Unlock()
		for _, c := range failed {
			if err := c.Close(); err != nil {
				r.log.Debug("close failed connection", slog.String("connID", c.ID()), slog.Any("error", err))
			}
		}
	}
	return delivered
}

// Identities администраторы, у которых есть хотя бы одно подключение
func (r *Registry) Identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		out = append(out, identity)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll закрывает все подключения, используется при остановке сервера
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for id, m := range r.conns {
		conns = append(conns, m.conn)
		r.leaveLocked(id)
	}
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
