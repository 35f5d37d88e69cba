package main

import (
	"bufio"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
)

// send marshals and sends a relay message to the server.
func send(c *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func main() {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	room := "demo"
	if len(os.Args) > 1 {
		room = os.Args[1]
	}
	name := "tester"
	if len(os.Args) > 2 {
		name = os.Args[2]
	}

	u := url.URL{Scheme: "ws", Host: "localhost:8080", Path: "/", RawQuery: "roomId=" + url.QueryEscape(room)}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				log.Printf("Read error: %v", err)
				return
			}
			log.Printf("<- %s", data)
		}
	}()

	if err := send(c, map[string]string{"type": "join", "name": name, "carColors": "ff0000,00ff00"}); err != nil {
		log.Fatalf("Join failed: %v", err)
	}

	// stdin lines become chat; "quit" exits
	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- strings.TrimSpace(scanner.Text())
		}
		close(input)
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupted, closing connection")
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case line, ok := <-input:
			if !ok || line == "quit" {
				return
			}
			if line == "" {
				continue
			}
			if err := send(c, map[string]string{"type": "chat", "text": line}); err != nil {
				log.Printf("Send failed: %v", err)
				return
			}
		}
	}
}
