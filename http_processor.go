package scxml

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentflare-ai/go-scxml/expr"
)

// httpEventNameParam is the reserved POST parameter carrying the event
// name, per the Basic HTTP Event I/O processor definition.
const httpEventNameParam = "_scxmleventname"

// BasicHTTPEventProcessor implements the Basic HTTP Event I/O processor:
// outbound sends become POST requests, inbound POSTs to
// /scxml/<sessionid> are translated into external events. Outbound
// traffic is throttled by a token bucket so a misbehaving document cannot
// flood a remote endpoint.
type BasicHTTPEventProcessor struct {
	executor *FsmExecutor
	addr     string
	server   *http.Server
	listener net.Listener
	client   *http.Client
	limiter  *rate.Limiter
}

// BasicHTTPOptions configures the processor.
type BasicHTTPOptions struct {
	// Addr is the listen address for inbound events, e.g. ":8094".
	Addr string
	// RequestsPerSecond caps outbound POSTs; zero means no limit.
	RequestsPerSecond rate.Limit
	// Burst is the token bucket depth; defaults to 1 when a limit is set.
	Burst int
}

// NewBasicHTTPEventProcessor creates the processor. Start must be called
// before inbound events can arrive.
func NewBasicHTTPEventProcessor(executor *FsmExecutor, opts BasicHTTPOptions) *BasicHTTPEventProcessor {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RequestsPerSecond, burst)
	}
	return &BasicHTTPEventProcessor{
		executor: executor,
		addr:     opts.Addr,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  limiter,
	}
}

var _ EventIOProcessor = (*BasicHTTPEventProcessor)(nil)

// Start binds the listen address and begins serving inbound events.
func (p *BasicHTTPEventProcessor) Start() error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("basichttp: %w", err)
	}
	p.listener = ln
	mux := http.NewServeMux()
	mux.HandleFunc("/scxml/", p.handleInbound)
	p.server = &http.Server{Handler: mux}
	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("basichttp server failed", "err", err)
		}
	}()
	return nil
}

// Types implements EventIOProcessor.
func (p *BasicHTTPEventProcessor) Types() []string {
	return []string{BasicHTTPEventProcessorType, BasicHTTPProcessorShortType}
}

// Location implements EventIOProcessor.
func (p *BasicHTTPEventProcessor) Location(sessionID SessionID) string {
	addr := p.addr
	if p.listener != nil {
		addr = p.listener.Addr().String()
	}
	return fmt.Sprintf("http://%s/scxml/%d", addr, sessionID)
}

// Copy implements EventIOProcessor; sessions share the transport.
func (p *BasicHTTPEventProcessor) Copy() EventIOProcessor { return p }

// Send implements EventIOProcessor: POST the event to the target URL.
func (p *BasicHTTPEventProcessor) Send(ctx context.Context, g *GlobalData, target string, ev *Event) bool {
	if target == "" {
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	if err := p.limiter.Wait(ctx); err != nil {
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	form := url.Values{}
	form.Set(httpEventNameParam, ev.Name)
	for _, pp := range ev.Params {
		form.Set(pp.Name, pp.Value.String())
	}
	if ev.Content != nil {
		if _, isNone := ev.Content.(expr.None); !isNone {
			form.Set("content", ev.Content.String())
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "basichttp send failed", "target", target, "err", err)
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		g.EnqueueInternal(ErrorCommunicationEvent(ev))
		return false
	}
	return true
}

// handleInbound translates a POST on /scxml/<sessionid> into an external
// event of that session.
func (p *BasicHTTPEventProcessor) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sidText := strings.TrimPrefix(r.URL.Path, "/scxml/")
	sid, err := strconv.ParseUint(sidText, 10, 32)
	if err != nil {
		http.Error(w, "bad session id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	name := r.PostForm.Get(httpEventNameParam)
	if name == "" {
		name = "http." + strings.ToLower(r.Method)
	}
	ev := NewEvent(name, EventTypeExternal)
	ev.OriginType = BasicHTTPEventProcessorType
	for k, vs := range r.PostForm {
		if k == httpEventNameParam || len(vs) == 0 {
			continue
		}
		ev.Params = append(ev.Params, ParamPair{Name: k, Value: expr.String(vs[0])})
	}
	if err := p.executor.SendToSession(SessionID(sid), ev); err != nil {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shutdown implements EventIOProcessor.
func (p *BasicHTTPEventProcessor) Shutdown(ctx context.Context) {
	if p.server != nil {
		_ = p.server.Shutdown(ctx)
	}
}
