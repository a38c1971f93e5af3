// Command play is a terminal client for the server's /ws endpoint. Type a
// column to drop a stone, "new" to start over or "quit" to leave.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Wire types mirror the server's events.
type event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stateEvent struct {
	Rows   []string `json:"rows"`
	ToMove string   `json:"to_move"`
	Legal  []int    `json:"legal"`
	Turn   int32    `json:"turn"`
	Human  string   `json:"human"`
}

type moveEvent struct {
	Player      string `json:"player,omitempty"`
	Column      int    `json:"column"`
	Simulations int    `json:"simulations,omitempty"`
}

type gameEndEvent struct {
	Winner string `json:"winner"`
	Draw   bool   `json:"draw"`
}

type errorEvent struct {
	Message string `json:"message"`
}

type newGameRequest struct {
	Human string `json:"human,omitempty"`
}

func send(conn *websocket.Conn, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(event{Type: typ, Data: raw})
}

func render(st stateEvent) {
	fmt.Println()
	header := ""
	for i := range st.Rows[0] {
		header += strconv.Itoa(i % 10)
	}
	fmt.Println(header)
	for _, row := range st.Rows {
		fmt.Println(row)
	}
	fmt.Printf("turn %d, %s to move (you are %s)\n", st.Turn, st.ToMove, st.Human)
}

func readLoop(conn *websocket.Conn, prompts chan<- struct{}) error {
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		switch ev.Type {
		case "state":
			var st stateEvent
			if err := json.Unmarshal(ev.Data, &st); err != nil {
				return err
			}
			render(st)
			if st.ToMove == st.Human && len(st.Legal) > 0 {
				prompts <- struct{}{}
			}
		case "move":
			var m moveEvent
			if err := json.Unmarshal(ev.Data, &m); err != nil {
				return err
			}
			if m.Simulations > 0 {
				fmt.Printf("%s plays %d (%d simulations)\n", m.Player, m.Column, m.Simulations)
			}
		case "game_end":
			var end gameEndEvent
			if err := json.Unmarshal(ev.Data, &end); err != nil {
				return err
			}
			if end.Draw {
				fmt.Println("draw. type new to play again")
			} else {
				fmt.Printf("%s wins. type new to play again\n", end.Winner)
			}
			prompts <- struct{}{}
		case "error":
			var e errorEvent
			if err := json.Unmarshal(ev.Data, &e); err != nil {
				return err
			}
			fmt.Println("error:", e.Message)
			prompts <- struct{}{}
		default:
			log.Debug().Str("type", ev.Type).Msg("ignoring event")
		}
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "Server address")
	human := flag.String("as", "X", "Play as X (first) or O (second)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: url.Values{"human": {*human}}.Encode()}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", u.String()).Msg("failed to connect")
	}
	defer conn.Close()

	prompts := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() { done <- readLoop(conn, prompts) }()

	input := bufio.NewScanner(os.Stdin)
	for {
		select {
		case err := <-done:
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Fatal().Err(err).Msg("connection lost")
			}
			return
		case <-prompts:
		}

		fmt.Print("> ")
		if !input.Scan() {
			break
		}
		line := strings.TrimSpace(input.Text())
		switch line {
		case "quit", "q":
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case "new":
			err = send(conn, "new", newGameRequest{Human: *human})
		default:
			col, convErr := strconv.Atoi(line)
			if convErr != nil {
				fmt.Println("enter a column number, new or quit")
				prompts <- struct{}{}
				continue
			}
			err = send(conn, "move", moveEvent{Column: col})
		}
		if err != nil {
			log.Fatal().Err(err).Msg("send failed")
		}
	}
}
