package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/creastat/widget/api"
	"github.com/creastat/widget/chat"
	"github.com/creastat/widget/config"
	"github.com/creastat/widget/realtime"
	"github.com/creastat/widget/session"
)

// State is the lifecycle state of a Manager.
type State int

const (
	StateClosed State = iota
	StateVerifying
	StateStarting
	StateActive
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateVerifying:
		return "verifying"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Exchange is the request/response half of the protocol.
type Exchange interface {
	StartSession(ctx context.Context, req api.StartRequest) (*api.StartResponse, error)
	SendMessage(ctx context.Context, req api.SendRequest) (*api.Reply, error)
	EndSession(ctx context.Context, conversationID int64) error
	CheckStatus(ctx context.Context, conversationID int64) (*api.StatusResponse, error)
	RequestHandover(ctx context.Context, req api.HandoverRequest) (*api.HandoverResponse, error)
}

// Channel is the realtime half of the protocol.
type Channel interface {
	Open(sessionKey string)
	Close()
	Connected() bool
	Ping(ctx context.Context) error
	Subscribe(h realtime.Handler) func()
}

type activeSession struct {
	key            string
	conversationID int64
}

// openResult is shared by every caller coalesced into one open attempt.
// abandoned marks a caller that stopped waiting; it never shows an apology.
type openResult struct {
	err       error
	announced atomic.Bool
	abandoned bool
}

type liveness struct {
	stop chan struct{}
	done chan struct{}
}

// Manager owns the lifecycle of one visitor conversation: restoring or
// starting it, exchanging messages, reacting to channel events and ending it.
// It is the only writer of the session cache.
type Manager struct {
	cfg        config.Config
	logger     *zap.Logger
	shell      Shell
	store      session.Store
	ownsStore  bool
	exchange   Exchange
	channel    Channel
	transcript *chat.Transcript
	onClose    func()

	agentTyping atomic.Bool

	group     singleflight.Group
	sendMu    sync.Mutex
	persistMu sync.Mutex
	// turnMu makes "is this conversation still live" and the transcript
	// write that follows one step with respect to cleanup.
	turnMu sync.Mutex

	mu          sync.Mutex
	state       State
	sess        *activeSession
	status      string
	typing      bool
	page        api.PageMetadata
	live        *liveness
	closeTimer  *time.Timer
	unsubscribe func()
	shutdown    bool
	// farewell is the local id of the ended notice, dropped by the next start.
	farewell string
}

// NewManager creates a Manager for cfg. Collaborators not supplied through
// options are built from the config.
func NewManager(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	o := buildOptions(opts)
	return newManager(cfg, o)
}

func newManager(cfg config.Config, o *options) (*Manager, error) {
	logger := o.logger.Named("widget").With(zap.String("tenant_id", cfg.TenantID))

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		shell:    o.shell,
		store:    o.store,
		exchange: o.exchange,
		channel:  o.channel,
		onClose:  o.onClose,
	}
	m.agentTyping.Store(o.agentTyping == nil || *o.agentTyping)

	if m.store == nil {
		store, err := openStore(cfg, o.now)
		if err != nil {
			return nil, err
		}
		m.store = store
		m.ownsStore = true
	}
	if m.exchange == nil {
		m.exchange = api.New(cfg.APIURL,
			api.WithTimeout(cfg.RequestTimeout.Duration()),
			api.WithLogger(o.logger),
		)
	}
	if m.channel == nil {
		m.channel = realtime.New(cfg.APIURL,
			realtime.WithLogger(o.logger),
			realtime.WithBackoff(realtime.Backoff{
				Base:   cfg.ReconnectDelay.Duration(),
				Max:    cfg.MaxReconnectDelay.Duration(),
				Jitter: 0.2,
			}),
		)
	}

	m.transcript = chat.NewTranscript(persister{m: m})
	m.transcript.Subscribe(m.shell)
	m.unsubscribe = m.channel.Subscribe(channelEvents{m: m})
	return m, nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionKey returns the key of the live conversation, or "".
func (m *Manager) SessionKey() string {
	if s := m.current(); s != nil {
		return s.key
	}
	return ""
}

// ConversationID returns the id of the live conversation, or 0.
func (m *Manager) ConversationID() int64 {
	if s := m.current(); s != nil {
		return s.conversationID
	}
	return 0
}

// Status returns the status text shown under the title, or "".
func (m *Manager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Typing reports whether the typing indicator is shown.
func (m *Manager) Typing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// Messages returns the transcript in display order.
func (m *Manager) Messages() []chat.Message {
	return m.transcript.Messages()
}

// SetPage records the page the visitor is on; it is sent with every message.
func (m *Manager) SetPage(url, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page = api.PageMetadata{PageURL: url, PageTitle: title}
}

// SetAgentTyping turns agent typing indicators from the channel on or off.
func (m *Manager) SetAgentTyping(visible bool) {
	m.agentTyping.Store(visible)
	if !visible {
		m.setTyping(false)
	}
}

// Open makes sure a conversation is live: an in-memory session is reused, a
// fresh cached one is verified and restored, anything else starts a new one.
// When starting fails the visitor sees a single apology and the error is
// returned. Concurrent calls share one attempt.
func (m *Manager) Open(ctx context.Context) error {
	res := m.open(ctx)
	m.announce(res)
	return res.err
}

// announce appends the connect apology once per failed attempt.
func (m *Manager) announce(res *openResult) {
	if res.err == nil || errors.Is(res.err, ErrShutdown) {
		return
	}
	if res.announced.CompareAndSwap(false, true) {
		m.transcript.AddLocal(chat.SenderBot, ConnectApology)
	}
}

// open joins the shared attempt. The attempt outlives any single caller:
// a caller whose ctx is done leaves with ctx.Err() and the others keep waiting.
func (m *Manager) open(ctx context.Context) *openResult {
	if err := ctx.Err(); err != nil {
		return abandoned(err)
	}
	ch := m.group.DoChan("open", func() (any, error) {
		return &openResult{err: m.establish(context.WithoutCancel(ctx))}, nil
	})
	select {
	case r := <-ch:
		return r.Val.(*openResult)
	case <-ctx.Done():
		return abandoned(ctx.Err())
	}
}

func abandoned(err error) *openResult {
	r := &openResult{err: err, abandoned: true}
	r.announced.Store(true)
	return r
}

func (m *Manager) establish(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ErrShutdown
	}
	if m.sess != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	rec, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrCorrupt):
		m.logger.Debug("discarded cached session", zap.Error(err))
	case err != nil:
		m.logger.Warn("failed to read cached session", zap.Error(err))
	}

	if rec != nil {
		m.setState(StateVerifying)
		if m.restore(ctx, rec) {
			return nil
		}
	}

	m.setState(StateStarting)
	return m.start(ctx)
}

// restore re-verifies a cached record with the server. Any failure purges the
// cache and reports false.
func (m *Manager) restore(ctx context.Context, rec *session.Record) bool {
	reqCtx, cancel := m.requestContext(ctx)
	status, err := m.exchange.CheckStatus(reqCtx, rec.ConversationID)
	cancel()

	if err != nil || !status.Status.Live() {
		fields := []zap.Field{zap.Int64("conversation_id", rec.ConversationID)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.String("status", string(status.Status)))
		}
		m.logger.Info("cached session not resumable, starting fresh", fields...)
		m.purge(ctx)
		return false
	}

	m.transcript.Restore(rec.Messages)
	m.activate(activeSession{key: rec.SessionKey, conversationID: rec.ConversationID})
	m.persist(ctx)
	m.logger.Info("session restored",
		zap.Int64("conversation_id", rec.ConversationID),
		zap.Int("messages", len(rec.Messages)),
	)
	return true
}

func (m *Manager) start(ctx context.Context) error {
	reqCtx, cancel := m.requestContext(ctx)
	resp, err := m.exchange.StartSession(reqCtx, api.StartRequest{
		TenantID:     m.cfg.TenantID,
		Channel:      m.cfg.Channel,
		CustomerName: m.cfg.GuestName,
	})
	cancel()
	if err != nil {
		m.setState(StateClosed)
		m.logger.Warn("failed to start session", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	m.dropFarewell()
	m.activate(activeSession{key: resp.SessionKey, conversationID: resp.ConversationID})
	m.persist(ctx)
	m.logger.Info("session started", zap.Int64("conversation_id", resp.ConversationID))
	return nil
}

// dropFarewell removes the ended notice of the previous conversation. Anything
// the visitor wrote since, and its apologies, stays.
func (m *Manager) dropFarewell() {
	m.mu.Lock()
	id := m.farewell
	m.farewell = ""
	m.mu.Unlock()
	if id != "" {
		m.transcript.Remove(id)
	}
}

func (m *Manager) activate(s activeSession) {
	m.mu.Lock()
	m.sess = &s
	m.state = StateActive
	if m.closeTimer != nil {
		m.closeTimer.Stop()
		m.closeTimer = nil
	}
	m.mu.Unlock()

	m.channel.Open(s.key)
	m.startLiveness()
}

// Send appends the visitor's message, posts it and appends the reply. Sends
// are serialized. A failure leaves an apology in the transcript and keeps the
// conversation open.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	// Open before the optimistic entry exists so a restore cannot replace it.
	res := m.open(ctx)
	if res.abandoned || errors.Is(res.err, ErrShutdown) {
		return res.err
	}
	local := m.transcript.AddLocal(chat.SenderVisitor, text)
	if res.err != nil {
		m.announce(res)
		return res.err
	}

	sess := m.current()
	if sess == nil {
		m.transcript.AddLocal(chat.SenderBot, ConnectApology)
		return ErrSessionUnavailable
	}

	m.mu.Lock()
	page := m.page
	m.mu.Unlock()

	m.setTyping(true)
	reqCtx, cancel := m.requestContext(ctx)
	reply, err := m.exchange.SendMessage(reqCtx, api.SendRequest{
		SessionKey: sess.key,
		Message:    text,
		Metadata:   page,
	})
	cancel()
	m.setTyping(false)

	if err != nil {
		m.logger.Warn("failed to send message", zap.Error(err), zap.Bool("timeout", api.IsTimeout(err)))
		if !m.whileCurrent(sess, func() { m.transcript.AddLocal(chat.SenderBot, apologyFor(err)) }) {
			return nil
		}
		return fmt.Errorf("send message: %w", err)
	}

	if !m.whileCurrent(sess, func() { m.applyReply(ctx, local, reply) }) {
		m.logger.Debug("dropping reply for a conversation that already ended")
	}
	return nil
}

func apologyFor(err error) string {
	if api.IsAPIError(err) {
		return ErrorApology
	}
	return SendApology
}

// applyReply merges a send reply into the transcript. A reply to a
// conversation owned by an agent names the visitor's own message; it confirms
// the optimistic entry and adds the delivery notice without an identity.
func (m *Manager) applyReply(ctx context.Context, local chat.Message, reply *api.Reply) {
	if reply.AgentAssigned() {
		if m.transcript.Confirm(local.LocalID, reply.MessageID) {
			m.persist(ctx)
		}
		m.transcript.AddServer(chat.Message{
			Sender:     chat.SenderSystem,
			SenderName: reply.SenderName,
			Body:       reply.Content,
			Timestamp:  reply.Timestamp,
		})
		return
	}

	msg := chat.Message{
		ID:         reply.MessageID,
		Sender:     reply.SenderType(),
		SenderName: reply.SenderName,
		Body:       reply.Content,
		Timestamp:  reply.Timestamp,
	}
	if _, added := m.transcript.AddServer(msg); !added {
		m.logger.Debug("reply already delivered by channel", zap.Int64("message_id", reply.MessageID))
	}
	if reply.Handoff() {
		m.logger.Info("bot requested handoff", zap.String("reason", reply.HandoffReason))
		m.setStatus(HandoffNotice)
	}
}

// RequestHandover asks for a human agent. Like Send it opens a conversation
// first when none is live.
func (m *Manager) RequestHandover(ctx context.Context, reason string) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	res := m.open(ctx)
	if res.err != nil {
		m.announce(res)
		return res.err
	}
	sess := m.current()
	if sess == nil {
		return ErrSessionUnavailable
	}

	reqCtx, cancel := m.requestContext(ctx)
	resp, err := m.exchange.RequestHandover(reqCtx, api.HandoverRequest{
		SessionKey: sess.key,
		Reason:     strings.TrimSpace(reason),
	})
	cancel()
	if err != nil {
		m.logger.Warn("handover request failed", zap.Error(err))
		if !m.whileCurrent(sess, func() { m.transcript.AddLocal(chat.SenderBot, apologyFor(err)) }) {
			return nil
		}
		return fmt.Errorf("request handover: %w", err)
	}

	m.whileCurrent(sess, func() {
		if resp.Message != "" {
			m.transcript.AddLocal(chat.SenderBot, resp.Message)
		}
		if resp.Status == api.HandoverRequested {
			m.setStatus(WaitingNotice)
		}
	})
	return nil
}

// End terminates the conversation. The server is told on a best-effort basis;
// local cleanup runs whatever the outcome. Ending with no live conversation,
// or while another End runs, does nothing.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	sess := m.sess
	if sess == nil || m.state == StateEnding {
		m.mu.Unlock()
		return nil
	}
	m.state = StateEnding
	m.mu.Unlock()

	defer m.cleanup(ctx)

	reqCtx, cancel := m.requestContext(ctx)
	defer cancel()
	if err := m.exchange.EndSession(reqCtx, sess.conversationID); err != nil {
		m.logger.Warn("failed to end session on server", zap.Int64("conversation_id", sess.conversationID), zap.Error(err))
		return nil
	}
	m.logger.Info("session ended", zap.Int64("conversation_id", sess.conversationID))
	return nil
}

// endedByServer runs the local cleanup for a conversation the server closed.
func (m *Manager) endedByServer(state realtime.SessionState) {
	m.mu.Lock()
	sess := m.sess
	if sess == nil || m.state == StateEnding {
		m.mu.Unlock()
		return
	}
	if state.SessionID != 0 && state.SessionID != sess.conversationID {
		m.mu.Unlock()
		return
	}
	m.state = StateEnding
	m.mu.Unlock()

	m.logger.Info("session ended by server", zap.Int64("conversation_id", sess.conversationID))
	m.cleanup(context.Background())
}

// cleanup releases everything tied to the conversation. The session is
// cleared first so that no reconnect, tick or persist can revive it.
func (m *Manager) cleanup(ctx context.Context) {
	m.turnMu.Lock()
	m.mu.Lock()
	m.sess = nil
	m.state = StateClosed
	m.mu.Unlock()
	m.turnMu.Unlock()

	m.channel.Close()
	m.stopLiveness()
	m.purge(ctx)
	m.setTyping(false)
	m.setStatus("")

	m.transcript.Reset()
	notice := m.transcript.AddLocal(chat.SenderBot, EndedNotice)
	m.mu.Lock()
	m.farewell = notice.LocalID
	m.mu.Unlock()
	m.scheduleClose()
}

func (m *Manager) scheduleClose() {
	if m.onClose == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	if m.closeTimer != nil {
		m.closeTimer.Stop()
	}
	m.closeTimer = time.AfterFunc(m.cfg.CloseDelay.Duration(), m.onClose)
}

// Shutdown saves the conversation and releases the channel without ending the
// conversation, so a later Manager using the same cache can resume it.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.persist(ctx)

	m.turnMu.Lock()
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.turnMu.Unlock()
		return nil
	}
	m.shutdown = true
	m.sess = nil
	m.state = StateClosed
	if m.closeTimer != nil {
		m.closeTimer.Stop()
		m.closeTimer = nil
	}
	unsubscribe := m.unsubscribe
	m.mu.Unlock()
	m.turnMu.Unlock()

	m.channel.Close()
	m.stopLiveness()
	if unsubscribe != nil {
		unsubscribe()
	}
	if w, ok := m.channel.(interface{ Wait() }); ok {
		w.Wait()
	}

	if m.ownsStore {
		m.persistMu.Lock()
		defer m.persistMu.Unlock()
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("close session store: %w", err)
		}
	}
	return nil
}

// persist writes the live conversation to the cache. It is a no-op once the
// session is cleared; the check and the write happen under persistMu so a
// purge can never be overtaken by an older write.
func (m *Manager) persist(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	sess := m.current()
	if sess == nil {
		return
	}
	rec := session.Record{
		SessionID:      sess.conversationID,
		SessionKey:     sess.key,
		ConversationID: sess.conversationID,
		Messages:       chat.Tail(m.transcript.Messages(), m.cfg.MaxCachedMessages),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("failed to cache session", zap.Error(err))
	}
}

func (m *Manager) purge(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.Purge(ctx); err != nil {
		m.logger.Warn("failed to purge cached session", zap.Error(err))
	}
}

// startLiveness (re)starts the ping loop for the live conversation.
func (m *Manager) startLiveness() {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return
	}
	old := m.live
	l := &liveness{stop: make(chan struct{}), done: make(chan struct{})}
	m.live = l
	m.mu.Unlock()

	if old != nil {
		close(old.stop)
	}
	go m.runLiveness(l)
}

func (m *Manager) stopLiveness() {
	m.mu.Lock()
	l := m.live
	m.live = nil
	m.mu.Unlock()

	if l != nil {
		close(l.stop)
		<-l.done
	}
}

func (m *Manager) runLiveness(l *liveness) {
	defer close(l.done)

	ticker := time.NewTicker(m.cfg.PingInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick pings when the channel is up and always refreshes the cache timestamp.
func (m *Manager) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout.Duration())
	defer cancel()

	if m.channel.Connected() {
		if err := m.channel.Ping(ctx); err != nil {
			m.logger.Debug("ping failed", zap.Error(err))
		}
	}
	m.persist(ctx)
}

func (m *Manager) current() *activeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// whileCurrent runs fn only if s is still the live conversation. Cleanup
// cannot clear the session while fn runs.
func (m *Manager) whileCurrent(s *activeSession, fn func()) bool {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	m.mu.Lock()
	live := m.sess == s
	m.mu.Unlock()
	if live {
		fn()
	}
	return live
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *Manager) setTyping(visible bool) {
	m.mu.Lock()
	changed := m.typing != visible
	m.typing = visible
	m.mu.Unlock()
	if changed {
		m.shell.TypingChanged(visible)
	}
}

func (m *Manager) setStatus(text string) {
	m.mu.Lock()
	changed := m.status != text
	m.status = text
	m.mu.Unlock()
	if changed {
		m.shell.StatusChanged(text)
	}
}

func (m *Manager) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.RequestTimeout.Duration())
}

// persister re-caches the conversation on every transcript mutation.
type persister struct {
	m *Manager
}

func (p persister) MessageAppended(chat.Message) {
	p.persist()
}

func (p persister) TranscriptReplaced([]chat.Message) {
	p.persist()
}

func (p persister) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), p.m.cfg.RequestTimeout.Duration())
	defer cancel()
	p.m.persist(ctx)
}

// channelEvents applies realtime events to the conversation.
type channelEvents struct {
	m *Manager
}

var _ realtime.Handler = channelEvents{}

func (e channelEvents) OnConnect() {
	e.m.logger.Debug("channel connected")
	e.m.startLiveness()
}

func (e channelEvents) OnDisconnect(err error) {
	if err != nil {
		e.m.logger.Debug("channel disconnected", zap.Error(err))
	}
}

func (e channelEvents) OnMessage(msg realtime.ChatMessage) {
	sess := e.m.current()
	if msg.SenderType != chat.SenderAgent || sess == nil {
		return
	}
	e.m.whileCurrent(sess, func() {
		e.m.setTyping(false)
		if _, added := e.m.transcript.AddServer(msg.Message()); !added {
			e.m.logger.Debug("duplicate message ignored", zap.Int64("message_id", msg.MessageID))
		}
	})
}

func (e channelEvents) OnAssigned(a realtime.Assignment) {
	if e.m.current() == nil {
		return
	}
	e.m.setStatus(connectedTo(a.AgentName))
}

func (e channelEvents) OnTyping(t realtime.Typing) {
	if !e.m.agentTyping.Load() || e.m.current() == nil {
		return
	}
	e.m.setTyping(t.AgentTyping())
}

func (e channelEvents) OnSessionEnded(s realtime.SessionState) {
	e.m.endedByServer(s)
}

func (e channelEvents) OnTransferred(a realtime.Assignment) {
	if e.m.current() == nil {
		return
	}
	e.m.setStatus(transferredTo(a.AgentName))
}
