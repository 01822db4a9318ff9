package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiredm-server/internal/proto"
)

type authResponse struct {
	Token string     `json:"token"`
	User  proto.User `json:"user"`
}

type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_dm: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	user := flag.String("user", "cli-user", "username")
	password := flag.String("password", "cli-password", "password")
	to := flag.Int64("to", 0, "user id to message")
	flag.Parse()

	if *to <= 0 {
		return errors.New("-to is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	session, err := authenticate(ctx, *base, *user, *password)
	if err != nil {
		return err
	}

	wsURL, err := url.Parse(*base)
	if err != nil {
		return fmt.Errorf("parse base: %w", err)
	}
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws"
	wsURL.RawQuery = url.Values{"token": {session.Token}}.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeHello, "hello", proto.HelloData{Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}

	fmt.Printf("Connected as %s (id %d), chatting with user %d\n", session.User.Username, session.User.ID, *to)
	fmt.Println("Type a message and press Enter. /react <id> <emoji>, /delete <id> [me|everyone]. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *to)
	return nil
}

// authenticate logs in and registers the user on first use.
func authenticate(ctx context.Context, base, user, password string) (*authResponse, error) {
	body := map[string]string{"username": user, "password": password}

	resp, status, err := postJSON(ctx, base+"/api/login", body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		resp, status, err = postJSON(ctx, base+"/api/register", body)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("authenticate: unexpected status %d", status)
	}
	return resp, nil
}

func postJSON(ctx context.Context, endpoint string, body any) (*authResponse, int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var out authResponse
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode auth response: %w", err)
		}
	}
	return &out, resp.StatusCode, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, ID: id, Data: payload})
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch f.Type {
		case proto.OutboundTypeError:
			fmt.Printf("error (%s): %s %s\n", f.ID, f.Error.Code, f.Error.Msg)
		case proto.OutboundTypeAck:
			fmt.Printf("ack (%s)\n", f.ID)
		case proto.OutboundTypeEvent:
			printEvent(f)
		}
	}
}

func printEvent(f frame) {
	switch f.Event {
	case proto.EventNewMessage:
		var data proto.NewMessageData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			log.Printf("unmarshal newMessage: %v", err)
			return
		}
		m := data.Message
		fmt.Printf("[%s] %d: %s (id %s)\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.Body, m.ID)
	case proto.EventDeleteMessage:
		var data proto.DeleteMessageData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			log.Printf("unmarshal deleteMessage: %v", err)
			return
		}
		fmt.Printf("message %s was deleted\n", data.MessageID)
	case proto.EventMessageReaction:
		var data proto.ReactionsData
		if err := json.Unmarshal(f.Data, &data); err != nil {
			log.Printf("unmarshal messageReaction: %v", err)
			return
		}
		emojis := make([]string, 0, len(data.Reactions))
		for _, r := range data.Reactions {
			emojis = append(emojis, r.User.Username+" "+r.Emoji)
		}
		fmt.Printf("reactions on %s: %s\n", data.MessageID, strings.Join(emojis, ", "))
	default:
		fmt.Printf("event=%s data=%s\n", f.Event, f.Data)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, to int64) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			seq++
			id := strconv.Itoa(seq)
			var err error
			fields := strings.Fields(text)
			switch {
			case fields[0] == "/react" && len(fields) == 3:
				err = send(ctx, conn, proto.InboundTypeReact, id, proto.ReactData{MessageID: fields[1], Emoji: fields[2]})
			case fields[0] == "/delete" && len(fields) >= 2:
				scope := ""
				if len(fields) > 2 {
					scope = fields[2]
				}
				err = send(ctx, conn, proto.InboundTypeDelete, id, proto.DeleteData{MessageID: fields[1], Scope: scope})
			default:
				err = send(ctx, conn, proto.InboundTypeSend, id, proto.SendData{To: to, Body: text})
			}
			if err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
