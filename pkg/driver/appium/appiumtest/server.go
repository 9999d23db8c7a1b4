// Package appiumtest provides an in-memory Appium server for tests without a real device.
package appiumtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/devicelab-dev/screen-runner/pkg/core"
)

const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Element is a fake UI element served by the Server.
type Element struct {
	ID        string
	Strategy  string
	Value     string
	Text      string
	Bounds    core.Bounds
	Displayed bool
	Enabled   bool

	// Attributes served by GET .../attribute/{name}
	Attributes map[string]string

	// AppearAfterFinds hides the element from the first N lookups.
	AppearAfterFinds int
	// AppearAfterSwipes hides the element until N swipes were performed.
	AppearAfterSwipes int
	// FailFinds makes the first N lookups fail with a server error.
	FailFinds int

	// OnActivate runs when the element is clicked or tapped.
	OnActivate func()

	finds   int
	clicks  int
	taps    int
	typed   string
	cleared int
}

// Gesture is a decoded W3C pointer action sequence.
type Gesture struct {
	Kind      string // tap, double_tap, long_press, swipe
	StartX    int
	StartY    int
	EndX      int
	EndY      int
	Duration  int    // hold or move duration in ms
	ElementID string // set when the gesture originates at an element
}

// Call records one HTTP request received by the server.
type Call struct {
	Method string
	Path   string
}

// Config configures fake server behavior.
type Config struct {
	// Platform reported in the session capabilities. Defaults to the requested platformName.
	Platform string
	Width    int
	Height   int
	// FailSessions makes the first N session requests fail with "session not created".
	FailSessions int
	Screenshot   []byte
	PageSource   string
}

// Server is a fake Appium server backed by httptest.
type Server struct {
	srv *httptest.Server
	cfg Config

	mu       sync.Mutex
	elements []*Element
	nextID   int
	active   map[string]bool
	sessions int
	quits    int
	gestures []Gesture
	calls    []Call
	caps     map[string]interface{}
	backs    int
	appOps   []string
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB, cfg Config) *Server {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width = 1080
	}
	if cfg.Height == 0 {
		cfg.Height = 1920
	}
	if cfg.Screenshot == nil {
		cfg.Screenshot = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	}
	if cfg.PageSource == "" {
		cfg.PageSource = `<?xml version="1.0" encoding="UTF-8"?><hierarchy rotation="0"><android.widget.FrameLayout bounds="[0,0][1080,1920]"/></hierarchy>`
	}

	s := &Server{cfg: cfg, active: make(map[string]bool)}
	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the server base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down so further requests fail to connect.
func (s *Server) Close() {
	s.srv.Close()
}

// Add registers an element and returns it with its ID assigned.
func (s *Server) Add(e Element) *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	el := e
	if el.ID == "" {
		el.ID = fmt.Sprintf("el-%d", s.nextID)
	}
	s.elements = append(s.elements, &el)
	return &el
}

// AddVisible registers a displayed, enabled element.
func (s *Server) AddVisible(strategy, value string, bounds core.Bounds) *Element {
	return s.Add(Element{
		Strategy:  strategy,
		Value:     value,
		Text:      value,
		Bounds:    bounds,
		Displayed: true,
		Enabled:   true,
	})
}

// SetDisplayed changes the displayed state of an element.
func (s *Server) SetDisplayed(e *Element, displayed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Displayed = displayed
}

// SetEnabled changes the enabled state of an element.
func (s *Server) SetEnabled(e *Element, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Enabled = enabled
}

// Remove unregisters an element; later lookups fail with "no such element".
func (s *Server) Remove(e *Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, el := range s.elements {
		if el == e {
			s.elements = append(s.elements[:i], s.elements[i+1:]...)
			return
		}
	}
}

// Finds returns how many lookups targeted the element.
func (s *Server) Finds(e *Element) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.finds
}

// Clicks returns how many times the element was clicked.
func (s *Server) Clicks(e *Element) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.clicks
}

// Taps returns how many gestures activated the element.
func (s *Server) Taps(e *Element) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.taps
}

// Typed returns the text typed into the element since its last clear.
func (s *Server) Typed(e *Element) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.typed
}

// Cleared returns how many times the element was cleared.
func (s *Server) Cleared(e *Element) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.cleared
}

// Gestures returns the decoded pointer gestures in order.
func (s *Server) Gestures() []Gesture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Gesture(nil), s.gestures...)
}

// Swipes returns the swipe gestures in order.
func (s *Server) Swipes() []Gesture {
	var swipes []Gesture
	for _, g := range s.Gestures() {
		if g.Kind == "swipe" {
			swipes = append(swipes, g)
		}
	}
	return swipes
}

// Calls returns every request received.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Sessions returns the number of sessions created.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Quits returns the number of sessions deleted.
func (s *Server) Quits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quits
}

// Active returns the number of sessions not yet deleted.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Capabilities returns the alwaysMatch capabilities of the last session request.
func (s *Server) Capabilities() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Backs returns the number of back navigations.
func (s *Server) Backs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backs
}

// AppOps returns app lifecycle operations (launch, close, reset, activate_app, terminate_app).
func (s *Server) AppOps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appOps...)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", s.handleNewSession)
	mux.HandleFunc("DELETE /session/{sid}", s.withSession(s.handleDeleteSession))
	mux.HandleFunc("GET /session/{sid}/window/rect", s.withSession(s.handleWindowRect))
	mux.HandleFunc("POST /session/{sid}/element", s.withSession(s.handleFind))
	mux.HandleFunc("POST /session/{sid}/elements", s.withSession(s.handleFindAll))
	mux.HandleFunc("POST /session/{sid}/element/{eid}/{op}", s.withSession(s.handleElementAction))
	mux.HandleFunc("GET /session/{sid}/element/{eid}/{prop}", s.withSession(s.handleElementProp))
	mux.HandleFunc("GET /session/{sid}/element/{eid}/attribute/{name}", s.withSession(s.handleAttribute))
	mux.HandleFunc("POST /session/{sid}/actions", s.withSession(s.handleActions))
	mux.HandleFunc("POST /session/{sid}/back", s.withSession(s.handleBack))
	mux.HandleFunc("POST /session/{sid}/appium/app/{op}", s.withSession(s.handleAppOp))
	mux.HandleFunc("POST /session/{sid}/appium/device/{op}", s.withSession(s.handleAppOp))
	mux.HandleFunc("GET /session/{sid}/screenshot", s.withSession(s.handleScreenshot))
	mux.HandleFunc("GET /session/{sid}/source", s.withSession(s.handleSource))
	mux.HandleFunc("POST /session/{sid}/timeouts", s.withSession(s.handleNull))
	mux.HandleFunc("POST /session/{sid}/execute/sync", s.withSession(s.handleNull))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		s.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) withSession(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.active[r.PathValue("sid")]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusNotFound, "invalid session id", "session is either terminated or not started")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Capabilities struct {
			AlwaysMatch map[string]interface{} `json:"alwaysMatch"`
		} `json:"capabilities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = body.Capabilities.AlwaysMatch
	if s.cfg.FailSessions > 0 {
		s.cfg.FailSessions--
		writeError(w, http.StatusInternalServerError, "session not created", "no device available")
		return
	}

	platform := s.cfg.Platform
	if platform == "" {
		platform, _ = s.caps["platformName"].(string)
	}
	s.sessions++
	sessionID := fmt.Sprintf("session-%d", s.sessions)
	s.active[sessionID] = true
	writeValue(w, map[string]interface{}{
		"sessionId": sessionID,
		"capabilities": map[string]interface{}{
			"platformName": platform,
		},
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.active, r.PathValue("sid"))
	s.quits++
	s.mu.Unlock()
	writeValue(w, nil)
}

func (s *Server) handleWindowRect(w http.ResponseWriter, r *http.Request) {
	writeValue(w, map[string]interface{}{
		"x": 0, "y": 0, "width": s.cfg.Width, "height": s.cfg.Height,
	})
}

type findRequest struct {
	Using string `json:"using"`
	Value string `json:"value"`
}

// lookup returns the elements currently findable by the locator.
// Caller must hold s.mu.
func (s *Server) lookup(req findRequest) ([]*Element, bool) {
	swipes := 0
	for _, g := range s.gestures {
		if g.Kind == "swipe" {
			swipes++
		}
	}

	var found []*Element
	failed := false
	for _, e := range s.elements {
		if e.Strategy != req.Using || e.Value != req.Value {
			continue
		}
		e.finds++
		if e.FailFinds > 0 {
			e.FailFinds--
			failed = true
			continue
		}
		if e.finds <= e.AppearAfterFinds || swipes < e.AppearAfterSwipes {
			continue
		}
		found = append(found, e)
	}
	return found, failed
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}

	s.mu.Lock()
	found, failed := s.lookup(req)
	s.mu.Unlock()

	if failed {
		writeError(w, http.StatusInternalServerError, "unknown error", "instrumentation crashed")
		return
	}
	if len(found) == 0 {
		writeError(w, http.StatusNotFound, "no such element",
			"An element could not be located on the page using the given search parameters.")
		return
	}
	writeValue(w, map[string]interface{}{w3cElementKey: found[0].ID})
}

func (s *Server) handleFindAll(w http.ResponseWriter, r *http.Request) {
	var req findRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid argument", err.Error())
		return
	}

	s.mu.Lock()
	found, failed := s.lookup(req)
	s.mu.Unlock()

	if failed {
		writeError(w, http.StatusInternalServerError, "unknown error", "instrumentation crashed")
		return
	}
	refs := make([]interface{}, 0, len(found))
	for _, e := range found {
		refs = append(refs, map[string]interface{}{w3cElementKey: e.ID})
	}
	writeValue(w, refs)
}

// element returns the element by id. Caller must hold s.mu.
func (s *Server) element(id string) *Element {
	for _, e := range s.elements {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Server) handleElementAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	e := s.element(r.PathValue("eid"))
	if e == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "stale element reference", "element is not attached to the page document")
		return
	}

	var activate func()
	switch r.PathValue("op") {
	case "click":
		e.clicks++
		activate = e.OnActivate
	case "clear":
		e.cleared++
		e.typed = ""
	case "value":
		e.typed += body.Text
	default:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown command", r.URL.Path)
		return
	}
	s.mu.Unlock()

	if activate != nil {
		activate()
	}
	writeValue(w, nil)
}

func (s *Server) handleElementProp(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.element(r.PathValue("eid"))
	if e == nil {
		writeError(w, http.StatusNotFound, "stale element reference", "element is not attached to the page document")
		return
	}

	switch r.PathValue("prop") {
	case "text":
		writeValue(w, e.Text)
	case "displayed":
		writeValue(w, e.Displayed)
	case "enabled":
		writeValue(w, e.Enabled)
	case "rect":
		writeValue(w, map[string]interface{}{
			"x": e.Bounds.X, "y": e.Bounds.Y, "width": e.Bounds.Width, "height": e.Bounds.Height,
		})
	default:
		writeError(w, http.StatusNotFound, "unknown command", r.URL.Path)
	}
}

func (s *Server) handleAttribute(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.element(r.PathValue("eid"))
	if e == nil {
		writeError(w, http.StatusNotFound, "stale element reference", "element is not attached to the page document")
		return
	}
	writeValue(w, e.Attributes[r.PathValue("name")])
}

type pointerAction struct {
	Type     string          `json:"type"`
	Duration int             `json:"duration"`
	X        int             `json:"x"`
	Y        int             `json:"y"`
	Origin   json.RawMessage `json:"origin"`
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actions []struct {
			Type    string          `json:"type"`
			Actions []pointerAction `json:"actions"`
		} `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "invalid argument", "malformed actions payload")
		return
	}

	s.mu.Lock()
	g, target := s.decodeGesture(body.Actions[0].Actions)
	s.gestures = append(s.gestures, g)
	var activate func()
	if target != nil && g.Kind != "swipe" {
		target.taps++
		activate = target.OnActivate
	}
	s.mu.Unlock()

	if activate != nil {
		activate()
	}
	writeValue(w, nil)
}

// decodeGesture classifies a pointer sequence. Caller must hold s.mu.
func (s *Server) decodeGesture(actions []pointerAction) (Gesture, *Element) {
	var g Gesture
	var target *Element
	moves, downs := 0, 0
	for _, a := range actions {
		switch a.Type {
		case "pointerMove":
			moves++
			x, y := a.X, a.Y
			var origin map[string]string
			if json.Unmarshal(a.Origin, &origin) == nil && origin[w3cElementKey] != "" {
				g.ElementID = origin[w3cElementKey]
				if e := s.element(g.ElementID); e != nil {
					cx, cy := e.Bounds.Center()
					x, y = cx+a.X, cy+a.Y
				}
			}
			if moves == 1 {
				g.StartX, g.StartY = x, y
			} else {
				g.Duration = a.Duration
			}
			g.EndX, g.EndY = x, y
		case "pointerDown":
			downs++
		case "pause":
			if downs > 0 && moves == 1 && a.Duration > g.Duration {
				g.Duration = a.Duration
			}
		}
	}

	switch {
	case moves > 1:
		g.Kind = "swipe"
	case downs > 1:
		g.Kind = "double_tap"
	case g.Duration >= 500:
		g.Kind = "long_press"
	default:
		g.Kind = "tap"
	}

	if g.ElementID != "" {
		target = s.element(g.ElementID)
	} else {
		// Topmost displayed element under the pointer
		for i := len(s.elements) - 1; i >= 0; i-- {
			e := s.elements[i]
			if e.Displayed && e.Bounds.Contains(g.StartX, g.StartY) {
				target = e
				break
			}
		}
	}
	return g, target
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.backs++
	s.mu.Unlock()
	writeValue(w, nil)
}

func (s *Server) handleAppOp(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.appOps = append(s.appOps, r.PathValue("op"))
	s.mu.Unlock()
	writeValue(w, nil)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	writeValue(w, base64.StdEncoding.EncodeToString(s.cfg.Screenshot))
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	writeValue(w, s.cfg.PageSource)
}

func (s *Server) handleNull(w http.ResponseWriter, r *http.Request) {
	writeValue(w, nil)
}

func writeValue(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": value})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"value": map[string]interface{}{
			"error":      code,
			"message":    message,
			"stacktrace": "",
		},
	})
}
