// refproducer is a reference producer: it owns PTYs and speaks the relay's
// control and data wire protocols directly, without a browser on the other
// end. It exists to exercise control/data framing end to end and as a
// minimal example of what a real producer integration looks like.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"github.com/avshare/termrelay/internal/frame"
	"github.com/avshare/termrelay/internal/identity"
	"github.com/avshare/termrelay/internal/terminal"
)

func randomPrivateKey() (string, error) {
	return nostr.GeneratePrivateKey(), nil
}

const scrollbackBytes = 64 * 1024

func main() {
	relayURL := flag.String("relay", "ws://127.0.0.1:8080", "relay base URL (ws:// or wss://)")
	sessionID := flag.String("session", "", "session id to attach as producer")
	shell := flag.String("shell", defaultShell(), "shell to spawn for new terminals")
	nsec := flag.String("nsec", "", "hex-encoded nostr private key signing control tokens (random if empty)")
	username := flag.String("username", "", "display name carried in the signed token")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("refproducer: -session is required")
	}

	sk := *nsec
	if sk == "" {
		var err error
		sk, err = randomPrivateKey()
		if err != nil {
			log.Fatalf("refproducer: generate key: %v", err)
		}
	}

	p := &producer{
		relayURL:  *relayURL,
		sessionID: *sessionID,
		shell:     *shell,
		sk:        sk,
		username:  *username,
		terms:     make(map[string]*liveTerminal),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("refproducer: shutting down")
		p.closeAll()
		os.Exit(0)
	}()

	if err := p.run(); err != nil {
		log.Fatalf("refproducer: %v", err)
	}
}

func defaultShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// httpResource converts a ws(s):// control URL to the http(s):// equivalent
// the relay verifies the token's NIP-98 "u" tag against, since the tag binds
// to the underlying HTTP request that performs the websocket upgrade, not
// the websocket scheme itself.
func httpResource(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}

// liveTerminal pairs a spawned PTY with the data-channel socket relaying its
// bytes, plus the scrollback a snapshot request answers from.
type liveTerminal struct {
	name   string
	pty    *terminal.PTY
	scroll *terminal.ScrollbackBuffer

	mu     sync.Mutex
	dataWS *websocket.Conn
}

type producer struct {
	relayURL  string
	sessionID string
	shell     string
	sk        string
	username  string

	controlWS *websocket.Conn

	mu    sync.Mutex
	terms map[string]*liveTerminal
}

func (p *producer) run() error {
	controlURL := fmt.Sprintf("%s/control/%s", p.relayURL, url.PathEscape(p.sessionID))
	token, err := identity.MintProducerToken(p.sk, httpResource(controlURL), p.username)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(controlURL, header)
	if err != nil {
		return fmt.Errorf("dial control: %w", err)
	}
	p.controlWS = conn
	defer conn.Close()

	hs, err := frame.EncodeControlHandshake(frame.ControlHandshakeMsg{
		Version:  "refproducer/1",
		Hostname: hostnameOrEmpty(),
		Username: p.username,
	})
	if err != nil {
		return fmt.Errorf("encode handshake: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, hs); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	log.Printf("refproducer: attached to session %s", p.sessionID)

	for {
		_, line, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("control read: %w", err)
		}
		p.dispatchControl(line)
	}
}

func (p *producer) dispatchControl(line []byte) {
	typ, err := frame.DecodeControlType(line)
	if err != nil {
		log.Printf("refproducer: bad control line: %v", err)
		return
	}

	switch typ {
	case frame.ControlStartTerminal:
		req, err := frame.DecodeStartTerminal(line)
		if err != nil {
			log.Printf("refproducer: decode start_terminal: %v", err)
			return
		}
		go p.startTerminal(req)
	case frame.ControlCloseTerminal:
		req, err := frame.DecodeCloseTerminal(line)
		if err != nil {
			log.Printf("refproducer: decode close_terminal: %v", err)
			return
		}
		p.closeTerminal(req.Name)
	default:
		log.Printf("refproducer: unexpected control type %q", typ)
	}
}

func (p *producer) startTerminal(req frame.StartTerminal) {
	cols, rows := req.Cols, req.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(p.shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	pt, err := terminal.Start(cmd, cols, rows)
	if err != nil {
		p.replyStarted(req.Name, req.RequestID, false, err.Error())
		return
	}

	dataURL := fmt.Sprintf("%s/terminal-data/%s/%s", p.relayURL, url.PathEscape(p.sessionID), url.PathEscape(req.Name))
	dataConn, _, err := websocket.DefaultDialer.Dial(dataURL, nil)
	if err != nil {
		pt.Close()
		p.replyStarted(req.Name, req.RequestID, false, err.Error())
		return
	}

	lt := &liveTerminal{
		name:   req.Name,
		pty:    pt,
		scroll: terminal.NewScrollbackBuffer(scrollbackBytes),
		dataWS: dataConn,
	}
	p.mu.Lock()
	p.terms[req.Name] = lt
	p.mu.Unlock()

	hsFrame, _ := frame.EncodeHandshake(frame.HandshakePayload{Version: "refproducer/1", Shell: p.shell, Cols: cols, Rows: rows})
	lt.send(hsFrame)

	p.replyStarted(req.Name, req.RequestID, true, "")

	go p.pumpOutput(lt)
	go p.readData(lt)
}

func (p *producer) replyStarted(name, requestID string, ok bool, errMsg string) {
	msg, err := frame.EncodeTerminalStarted(frame.TerminalStarted{
		Name: name, RequestID: requestID, Success: ok, Error: errMsg,
	})
	if err != nil {
		return
	}
	_ = p.controlWS.WriteMessage(websocket.TextMessage, msg)
}

// pumpOutput copies PTY output to the data channel and the scrollback
// buffer until the PTY closes, then tells the relay the process exited.
func (p *producer) pumpOutput(lt *liveTerminal) {
	buf := make([]byte, 8192)
	for {
		n, err := lt.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			lt.scroll.Write(chunk)
			lt.send(frame.EncodeOutput(chunk))
		}
		if err != nil {
			break
		}
	}

	code := lt.pty.Wait()
	exitFrame, _ := frame.EncodeExit(code)
	lt.send(exitFrame)

	closedMsg, _ := frame.EncodeTerminalClosed(lt.name, code)
	_ = p.controlWS.WriteMessage(websocket.TextMessage, closedMsg)

	p.mu.Lock()
	delete(p.terms, lt.name)
	p.mu.Unlock()
	lt.dataWS.Close()
}

// readData handles relay->producer data frames: input, resize,
// pause/resume, and snapshot requests answered from the scrollback buffer.
func (p *producer) readData(lt *liveTerminal) {
	for {
		_, raw, err := lt.dataWS.ReadMessage()
		if err != nil {
			return
		}
		df, err := frame.DecodeData(raw)
		if err != nil {
			continue
		}
		switch df.Kind {
		case frame.KindInput:
			lt.pty.Write(df.Payload)
		case frame.KindResize:
			rs, err := frame.DecodeResize(df.Payload)
			if err == nil {
				lt.pty.Resize(rs.Cols, rs.Rows)
			}
		case frame.KindSnapshotReq:
			req, err := frame.DecodeSnapshotRequest(df.Payload)
			if err != nil {
				continue
			}
			snap, encErr := frame.EncodeSnapshot(frame.SnapshotPayload{
				RequestID: req.RequestID,
				Screen:    lt.scroll.Snapshot(),
			})
			if encErr == nil {
				lt.send(snap)
			}
		case frame.KindPause, frame.KindResume:
			// refproducer has no backpressure-sensitive source to pause.
		}
	}
}

func (p *producer) closeTerminal(name string) {
	p.mu.Lock()
	lt, ok := p.terms[name]
	p.mu.Unlock()
	if !ok {
		return
	}
	lt.pty.Close()
}

func (p *producer) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, lt := range p.terms {
		lt.pty.Close()
	}
}

func (lt *liveTerminal) send(b []byte) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_ = lt.dataWS.WriteMessage(websocket.BinaryMessage, b)
}

func hostnameOrEmpty() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
